package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold is the payload size above which uploads go through
	// the multipart manager.
	multipartThreshold = 32 * 1024 * 1024
)

// LedgerArchiver implements domain.Archiver by reading a time window of the
// reward or event log, encoding it as JSONL, and uploading one object per
// window. Re-running a window overwrites the same object. Archived rows stay
// in the primary store.
type LedgerArchiver struct {
	writer domain.BlobWriter
	ledger domain.LedgerReader
	logger *slog.Logger
}

// NewArchiver creates a LedgerArchiver.
func NewArchiver(writer domain.BlobWriter, ledger domain.LedgerReader, logger *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		writer: writer,
		ledger: ledger,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveRewards exports rewards created in [since, until) to
// rewards/<window>.jsonl and returns the number of rows written.
func (a *LedgerArchiver) ArchiveRewards(ctx context.Context, since, until time.Time) (int64, error) {
	rewards, err := a.ledger.RewardsBetween(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rewards query: %w", err)
	}
	return archive(ctx, a, "rewards", since, until, rewards)
}

// ArchiveEvents exports events that occurred in [since, until) to
// events/<window>.jsonl and returns the number of rows written.
func (a *LedgerArchiver) ArchiveEvents(ctx context.Context, since, until time.Time) (int64, error) {
	events, err := a.ledger.EventsBetween(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	return archive(ctx, a, "events", since, until, events)
}

func archive[T any](ctx context.Context, a *LedgerArchiver, kind string, since, until time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		a.logger.DebugContext(ctx, "nothing to archive",
			slog.String("kind", kind),
			slog.Time("since", since),
			slog.Time("until", until),
		)
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, since, until)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "ledger archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int("bytes", len(buf)),
	)
	return count, nil
}

// archivePath names the object for a window. A window covering exactly one
// UTC day uses the day; anything else uses both bounds.
//
//	rewards/2026-10-18.jsonl
//	events/20261018T060000Z_20261018T120000Z.jsonl
func archivePath(kind string, since, until time.Time) string {
	since, until = since.UTC(), until.UTC()
	if since.Equal(since.Truncate(24*time.Hour)) && until.Equal(since.Add(24*time.Hour)) {
		return fmt.Sprintf("%s/%s.jsonl", kind, since.Format("2006-01-02"))
	}
	const compact = "20060102T150405Z"
	return fmt.Sprintf("%s/%s_%s.jsonl", kind, since.Format(compact), until.Format(compact))
}

// marshalJSONL encodes each record as one compact JSON line.
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

var _ domain.Archiver = (*LedgerArchiver)(nil)
