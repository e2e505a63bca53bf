// Package export writes cost export objects to Google Cloud Storage.
package export

import (
	"context"
	"encoding/csv"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSExporter writes CSV exports into one bucket.
type GCSExporter struct {
	client *storage.Client
	bucket string
}

// NewGCSExporter creates the exporter over an existing client.
func NewGCSExporter(client *storage.Client, bucket string) *GCSExporter {
	return &GCSExporter{client: client, bucket: bucket}
}

// WriteCSV streams header and rows into the object at objectPath and
// returns the gs:// path of the written object.
func (e *GCSExporter) WriteCSV(ctx context.Context, objectPath string, header []string, rows [][]string) (string, error) {
	writer := e.client.Bucket(e.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = "text/csv"

	cw := csv.NewWriter(writer)
	if err := cw.Write(header); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write csv rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	// Close commits the object; errors before this leave nothing behind.
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to commit export object: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", e.bucket, objectPath), nil
}
