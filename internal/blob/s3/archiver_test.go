package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/clearstrike/clearstrike/internal/domain"
)

type fakeBlobWriter struct {
	objects map[string][]byte
}

func (w *fakeBlobWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = buf
	return nil
}

type fakeBlobReader struct {
	writer *fakeBlobWriter
}

func (r *fakeBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := r.writer.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (r *fakeBlobReader) List(_ context.Context, _ string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (r *fakeBlobReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := r.writer.objects[path]
	return ok, nil
}

type fakeAuditLog struct {
	events []string
}

func (a *fakeAuditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAuditLog) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedPosition(id uint64) domain.Position {
	return domain.Position{
		ID:          id,
		Owner:       common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		Feed:        common.HexToAddress("0x0000000000000000000000000000000000000101"),
		Strike:      big.NewInt(60_000_0000_0000),
		Deposit:     new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
		IsCall:      true,
		OpenedAt:    1_700_000_000,
		Duration:    300,
		Multiplier:  19_000,
		Status:      domain.PositionStatusClosed,
		ClosedAt:    1_700_000_300,
		SettlePrice: big.NewInt(61_000_0000_0000),
		Payout:      new(big.Int).Mul(big.NewInt(19), big.NewInt(1e18)),
		Fee:         big.NewInt(0),
	}
}

func TestArchiveClosedWritesJSONL(t *testing.T) {
	writer := &fakeBlobWriter{}
	reader := &fakeBlobReader{writer: writer}
	audit := &fakeAuditLog{}
	arch := NewArchiver(writer, reader, nil, audit)

	day := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	path, err := arch.ArchiveClosed(context.Background(), day, []domain.Position{
		closedPosition(1),
		closedPosition(2),
	})
	require.NoError(t, err)
	require.Equal(t, "archive/positions/2026-01-15.jsonl", path)
	require.Equal(t, []string{"archive.positions"}, audit.events)

	lines := bytes.Split(bytes.TrimSpace(writer.objects[path]), []byte("\n"))
	require.Len(t, lines, 2)

	var rec positionRecord
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	require.Equal(t, uint64(1), rec.ID)
	require.Equal(t, "10000000000000000000", rec.Deposit)
	require.Equal(t, "19000000000000000000", rec.Payout)
	require.True(t, rec.IsCall)
}

func TestArchiveClosedEmptyIsNoOp(t *testing.T) {
	writer := &fakeBlobWriter{}
	audit := &fakeAuditLog{}
	arch := NewArchiver(writer, nil, nil, audit)

	path, err := arch.ArchiveClosed(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	require.Empty(t, path)
	require.Empty(t, writer.objects)
	require.Empty(t, audit.events)
}
