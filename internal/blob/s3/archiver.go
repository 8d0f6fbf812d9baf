package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/clearstrike/clearstrike/internal/domain"
)

// ClosedPositionStore provides read access to settled positions for archival
// purposes. The archiver only requires this one query, not the full
// domain.PositionStore; the Postgres store satisfies it implicitly.
type ClosedPositionStore interface {
	// ListClosedBetween returns all positions settled at or after from and
	// strictly before to.
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]domain.Position, error)
}

// Archiver implements domain.Archiver by serializing settled positions to
// JSONL and uploading the result to S3, partitioned by settlement day.
//
// Removal of archived rows from the primary store is intentionally NOT
// performed here -- that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  ClosedPositionStore
	audit  domain.AuditStore
}

// NewArchiver creates a new Archiver. reader is used to verify uploads and
// may be nil; store and audit may be nil when only ArchiveClosed with
// caller-supplied positions is needed.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, store ClosedPositionStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		store:  store,
		audit:  audit,
	}
}

// positionRecord is the JSONL row written for each settled position. Amounts
// are decimal strings so records survive tooling that truncates large JSON
// numbers.
type positionRecord struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Feed        string `json:"feed"`
	Strike      string `json:"strike"`
	Deposit     string `json:"deposit"`
	IsCall      bool   `json:"is_call"`
	OpenedAt    uint64 `json:"opened_at"`
	Duration    uint64 `json:"duration"`
	Multiplier  uint64 `json:"multiplier"`
	ClosedAt    uint64 `json:"closed_at"`
	SettlePrice string `json:"settle_price"`
	Payout      string `json:"payout"`
	Fee         string `json:"fee"`
}

func toRecord(p domain.Position) positionRecord {
	bigStr := func(v interface{ String() string }) string {
		if v == nil {
			return ""
		}
		return v.String()
	}
	return positionRecord{
		ID:          p.ID,
		Owner:       p.Owner.Hex(),
		Feed:        p.Feed.Hex(),
		Strike:      bigStr(p.Strike),
		Deposit:     bigStr(p.Deposit),
		IsCall:      p.IsCall,
		OpenedAt:    p.OpenedAt,
		Duration:    p.Duration,
		Multiplier:  p.Multiplier,
		ClosedAt:    p.ClosedAt,
		SettlePrice: bigStr(p.SettlePrice),
		Payout:      bigStr(p.Payout),
		Fee:         bigStr(p.Fee),
	}
}

// ArchiveClosed serializes the given settled positions to JSONL and uploads
// the file to archive/positions/YYYY-MM-DD.jsonl keyed by the given day. The
// upload is verified and recorded in the audit log, and the object path is
// returned. Archiving an empty slice is a no-op returning an empty path.
func (a *Archiver) ArchiveClosed(ctx context.Context, day time.Time, positions []domain.Position) (string, error) {
	if len(positions) == 0 {
		return "", nil
	}

	records := make([]positionRecord, 0, len(positions))
	for _, p := range positions {
		records = append(records, toRecord(p))
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", day)
	if err := a.upload(ctx, path, buf); err != nil {
		return "", fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive positions verify: %w", err)
		}
		if !ok {
			return "", fmt.Errorf("s3blob: archive positions verify: object %s missing after upload", path)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"path":  path,
			"count": len(positions),
			"day":   day.Format("2006-01-02"),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive positions audit log: %w", err)
		}
	}

	return path, nil
}

// ArchiveDay queries the store for positions settled on the given UTC day and
// archives them via ArchiveClosed. The count of archived records is returned.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	if a.store == nil {
		return 0, fmt.Errorf("s3blob: archive day: no position store configured")
	}

	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	positions, err := a.store.ListClosedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	if _, err := a.ArchiveClosed(ctx, from, positions); err != nil {
		return 0, err
	}
	return int64(len(positions)), nil
}

// multipartWriter is satisfied by writers that can split large uploads.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

const archiveContentType = "application/x-ndjson"

// upload picks the multipart path for payloads past the S3 single-part
// minimum when the writer supports it.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > minPartSize {
		if mw, ok := a.writer.(multipartWriter); ok {
			return mw.PutMultipart(ctx, path, bytes.NewReader(buf), archiveContentType, minPartSize)
		}
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
}

// archivePath builds the S3 key for an archive file, partitioned by the
// UTC day being archived.
//
//	archive/positions/2026-01-15.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.UTC().Format("2006-01-02"))
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
