package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fanpredict/marketd/internal/domain"
)

// multipartThreshold is the export size above which the upload goes through
// the multipart manager instead of a single PutObject.
const multipartThreshold int64 = 32 * 1024 * 1024

// SettledBetStore provides the queries the archiver needs from the bet
// mirror: reading settled rows past the retention cutoff and pruning them
// once the archive upload is confirmed.
type SettledBetStore interface {
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.BetRow, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// BetArchiver exports settled mirror rows to object storage as JSONL and
// prunes them from the hot table. Pending rows are never touched; a row only
// leaves the mirror after its archive object is uploaded.
type BetArchiver struct {
	writer domain.BlobWriter
	bets   SettledBetStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewBetArchiver creates a BetArchiver.
func NewBetArchiver(writer domain.BlobWriter, bets SettledBetStore, audit domain.AuditStore, logger *slog.Logger) *BetArchiver {
	return &BetArchiver{
		writer: writer,
		bets:   bets,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettledBets exports up to batchSize settled rows older than the
// cutoff and deletes them after the upload succeeds. It returns the number of
// rows archived; callers loop until it returns zero to drain a large backlog.
func (a *BetArchiver) ArchiveSettledBets(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	rows, err := a.bets.ListSettledBefore(ctx, before, batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets marshal: %w", err)
	}

	path := archivePath("bets", time.Now().UTC())
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets upload: %w", err)
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	if err := a.bets.DeleteByIDs(ctx, ids); err != nil {
		// The rows are archived but still in the mirror; the next run will
		// re-export them, which duplicates archive lines but loses nothing.
		return int64(len(rows)), fmt.Errorf("s3blob: archive bets prune: %w", err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive.bets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.WarnContext(ctx, "archive audit log failed",
			slog.String("error", err.Error()))
	}

	a.logger.InfoContext(ctx, "settled bets archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by month
// with a timestamp suffix so successive batches never collide.
//
//	archive/bets/2026-03/20260301T120000.jsonl
func archivePath(kind string, now time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, now.Format("2006-01"), now.Format("20060102T150405"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
