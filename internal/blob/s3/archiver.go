package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// Archiver uploads cold copies of trading history and system snapshots to
// object storage. It reads from the durable stores, serializes to JSONL,
// and writes one object per run. Records are never deleted from the primary
// store here; pruning is a separate, explicit operation run after an
// archive has been verified.
type Archiver struct {
	writer    *Writer
	positions domain.PositionStore
	events    domain.ErrorEventStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer *Writer, positions domain.PositionStore, events domain.ErrorEventStore) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		events:    events,
	}
}

// upload picks the transfer path by payload size: a single PutObject for the
// common case, the multipart manager once the archive crosses one part size.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte, contentType string) error {
	if int64(len(buf)) >= minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentType)
}

// ArchiveClosedTrades uploads all positions closed at or after the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the count of archived records.
func (a *Archiver) ArchiveClosedTrades(ctx context.Context, since time.Time) (int64, error) {
	var all []domain.Position
	opts := domain.ListOpts{Limit: 500}
	for {
		page, err := a.positions.ListClosedSince(ctx, since, opts)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
		}
		all = append(all, page...)
		if len(page) < opts.Limit {
			break
		}
		opts.Offset += opts.Limit
	}
	if len(all) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", since)
	if err := a.upload(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(all)), nil
}

// ArchiveErrorEvents uploads fault events reported within the given window to
// archive/errors/YYYY-MM.jsonl and returns the count of archived records.
func (a *Archiver) ArchiveErrorEvents(ctx context.Context, window time.Duration) (int64, error) {
	events, err := a.events.ListRecent(ctx, window, domain.ListOpts{Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive errors query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive errors marshal: %w", err)
	}

	path := archivePath("errors", time.Now())
	if err := a.upload(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive errors upload: %w", err)
	}
	return int64(len(events)), nil
}

// ArchiveSnapshot uploads a system snapshot to
// snapshots/YYYY-MM-DD/HHMMSS.json so operators can inspect the state the
// system carried at any point in time.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap domain.SystemSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}

	path := fmt.Sprintf("snapshots/%s/%s.json",
		snap.TakenAt.UTC().Format("2006-01-02"),
		snap.TakenAt.UTC().Format("150405"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload snapshot: %w", err)
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2026-08.jsonl
//	archive/errors/2026-08.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("2006-01"))
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
