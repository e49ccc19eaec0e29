package observability

import (
	"context"
	"fmt"

	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/platform/storage"
	"gopkg.in/yaml.v3"
)

// ReportWriter serializes a BatchRun's Summary as YAML and, when an S3
// client is configured, uploads it as a report artifact (spec §7,
// SPEC_FULL.md §4.10). The upload step is optional; a nil client simply
// skips it.
type ReportWriter struct {
	s3 *storage.S3Client
}

// NewReportWriter builds a ReportWriter. Pass nil for s3 to disable upload.
func NewReportWriter(s3 *storage.S3Client) *ReportWriter {
	return &ReportWriter{s3: s3}
}

// Write renders run's summary as YAML and returns the bytes, uploading them
// to S3 under reports/<batch_id>/summary.yaml when upload is enabled.
func (w *ReportWriter) Write(ctx context.Context, run *model.BatchRun) ([]byte, error) {
	summary := run.BuildSummary()
	body, err := yaml.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal run summary: %w", err)
	}

	if w.s3 != nil {
		key := fmt.Sprintf("reports/%s/summary.yaml", run.BatchID)
		if err := w.s3.PutReport(ctx, key, body, "application/yaml"); err != nil {
			return body, fmt.Errorf("upload run summary: %w", err)
		}
	}

	return body, nil
}
