package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/siteops"
)

var exportHeader = []string{
	"item_key",
	"category",
	"succeeded",
	"status_code",
	"content_type",
	"byte_size",
	"title",
	"meta_description",
	"h1",
	"canonical",
	"robots",
	"render_millis",
	"blob_uri",
	"error",
	"processed_at",
}

// ExportCSV streams every recorded result row for the job as CSV,
// ordered by item key. Exporting a Running job yields the rows recorded
// up to the moment of the call.
func (s *Service) ExportCSV(ctx context.Context, jobID string, w io.Writer) error {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return err
	}
	rows, err := s.results.ListAll(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(exportRecord(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	s.logger.Debug("results exported", zap.String("job_id", jobID), zap.Int("rows", len(rows)))
	return nil
}

func exportRecord(r siteops.Result) []string {
	return []string{
		r.ItemKey,
		string(r.Category),
		strconv.FormatBool(r.Succeeded),
		strconv.Itoa(r.StatusCode),
		r.ContentType,
		strconv.Itoa(r.ByteSize),
		r.Title,
		r.MetaDescription,
		r.H1,
		r.Canonical,
		r.Robots,
		strconv.FormatInt(r.RenderMillis, 10),
		r.BlobURI,
		r.ErrorText,
		r.ProcessedAt.UTC().Format(time.RFC3339),
	}
}
