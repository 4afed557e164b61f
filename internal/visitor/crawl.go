// Package visitor implements the per-item workers for the two job
// kinds: the crawl auditor and the static-render builder.
package visitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/siteops"
)

// CrawlConfig tunes the audit fetcher.
type CrawlConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxConnsPerHost int
}

// CrawlVisitor fetches one URL per work item and extracts the audited
// SEO fields. Only transport errors fail an item; any HTTP status code
// is a recorded fetch.
type CrawlVisitor struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewCrawlVisitor constructs a configured colly-based crawl visitor.
func NewCrawlVisitor(cfg CrawlConfig, logger *zap.Logger) (*CrawlVisitor, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pagegrove-siteops/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	// Non-2xx bodies must reach OnResponse: a 404 audit row still wants
	// the page's title and meta fields.
	base.ParseHTTPErrorResponse = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &CrawlVisitor{baseCollector: base, logger: logger}, nil
}

type crawlResponse struct {
	statusCode  int
	contentType string
	body        []byte
	err         error
}

// Visit fetches the item's URL on a cloned collector and reports the
// audit outcome.
func (v *CrawlVisitor) Visit(ctx context.Context, _ siteops.Site, item siteops.WorkItem) siteops.Outcome {
	collector := v.baseCollector.Clone()
	collector.Context = ctx

	resultCh := make(chan crawlResponse, 1)
	var once sync.Once
	send := func(res crawlResponse) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		send(crawlResponse{
			statusCode:  r.StatusCode,
			contentType: contentType,
			body:        append([]byte{}, r.Body...),
		})
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(crawlResponse{err: err})
	})

	if err := collector.Visit(item.Key); err != nil {
		return siteops.Outcome{Failed: true, ErrorText: err.Error()}
	}
	collector.Wait()

	var res crawlResponse
	select {
	case res = <-resultCh:
	default:
		return siteops.Outcome{Failed: true, ErrorText: "fetch produced no result"}
	}
	if err := ctx.Err(); err != nil {
		return siteops.Outcome{Failed: true, ErrorText: err.Error()}
	}
	if res.err != nil {
		v.logger.Debug("fetch failed", zap.String("url", item.Key), zap.Error(res.err))
		return siteops.Outcome{Failed: true, ErrorText: res.err.Error()}
	}

	outcome := siteops.Outcome{
		StatusCode:  res.statusCode,
		ContentType: res.contentType,
		ByteSize:    len(res.body),
	}
	if isHTML(res.contentType) {
		facts, err := ExtractFacts(res.body)
		if err != nil {
			v.logger.Debug("parse failed", zap.String("url", item.Key), zap.Error(err))
			return outcome
		}
		outcome.Title = facts.Title
		outcome.MetaDescription = facts.MetaDescription
		outcome.H1 = facts.H1
		outcome.Canonical = facts.Canonical
		outcome.Robots = facts.Robots
	}
	return outcome
}
