package siteops

import (
	"fmt"
	"time"
)

// Concurrency bounds validated at job creation. Render work is heavier
// than plain fetches, so rebuild jobs get a lower ceiling.
const (
	MinConcurrency        = 1
	MaxCrawlConcurrency   = 16
	MaxRebuildConcurrency = 8
)

// Timeout bounds for a single visitor call.
const (
	MinItemTimeout = time.Second
	MaxItemTimeout = 5 * time.Minute
)

// ValidateConfig checks a kind-specific configuration against the
// allowed bounds. It is called synchronously at job creation; a failure
// here means no job row is persisted.
func ValidateConfig(kind JobKind, cfg JobConfig) error {
	if err := validateConfig(kind, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func validateConfig(kind JobKind, cfg JobConfig) error {
	switch kind {
	case KindCrawl:
		if cfg.Crawl == nil {
			return fmt.Errorf("crawl job requires a crawl config")
		}
		return validateCrawl(*cfg.Crawl)
	case KindRebuild:
		if cfg.Rebuild == nil {
			return fmt.Errorf("rebuild job requires a rebuild config")
		}
		return validateRebuild(*cfg.Rebuild)
	default:
		return fmt.Errorf("unknown job kind %q", kind)
	}
}

func validateCrawl(cfg CrawlConfig) error {
	if cfg.MaxItems <= 0 {
		return fmt.Errorf("max_items must be positive, got %d", cfg.MaxItems)
	}
	if cfg.Concurrency < MinConcurrency || cfg.Concurrency > MaxCrawlConcurrency {
		return fmt.Errorf("crawl concurrency must be between %d and %d, got %d",
			MinConcurrency, MaxCrawlConcurrency, cfg.Concurrency)
	}
	if cfg.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", cfg.Delay)
	}
	return validateTimeout(cfg.Timeout)
}

func validateRebuild(cfg RebuildConfig) error {
	switch cfg.Mode {
	case RebuildFull, RebuildIncremental:
	case RebuildSpecific:
		if len(cfg.BookSlugs)+len(cfg.AuthorSlugs)+len(cfg.GenreSlugs) == 0 {
			return fmt.Errorf("specific rebuild requires at least one slug")
		}
	default:
		return fmt.Errorf("unknown rebuild mode %q", cfg.Mode)
	}
	if cfg.Concurrency < MinConcurrency || cfg.Concurrency > MaxRebuildConcurrency {
		return fmt.Errorf("rebuild concurrency must be between %d and %d, got %d",
			MinConcurrency, MaxRebuildConcurrency, cfg.Concurrency)
	}
	return validateTimeout(cfg.Timeout)
}

func validateTimeout(d time.Duration) error {
	if d < MinItemTimeout || d > MaxItemTimeout {
		return fmt.Errorf("per-item timeout must be between %s and %s, got %s",
			MinItemTimeout, MaxItemTimeout, d)
	}
	return nil
}
