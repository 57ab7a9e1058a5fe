package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string][]byte{}} }

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	return nil
}

func (f *fakeBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range f.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok, nil
}

type fakeLog struct {
	txs     []domain.Transaction
	updates []domain.PortfolioUpdate
}

func (f fakeLog) txStore() TransactionArchiveStore { return txFunc(func() []domain.Transaction { return f.txs }) }

type txFunc func() []domain.Transaction

func (fn txFunc) ListBefore(context.Context, time.Time) ([]domain.Transaction, error) { return fn(), nil }

type updateFunc func() []domain.PortfolioUpdate

func (fn updateFunc) ListBefore(context.Context, time.Time) ([]domain.PortfolioUpdate, error) {
	return fn(), nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiveMembership_DoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, txFunc(nil), updateFunc(nil), discardLogger())
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	g := domain.Group{ID: "g_1", Name: "Jammin", Leader: "marcus254"}
	members := []domain.Member{{Role: domain.RoleLeader, Username: "marcus254", JoinedDate: fixed}}

	first, err := a.ArchiveMembership(ctx, g, members)
	if err != nil {
		t.Fatalf("ArchiveMembership() error = %v", err)
	}
	second, err := a.ArchiveMembership(ctx, g, members)
	if err != nil {
		t.Fatalf("second ArchiveMembership() error = %v", err)
	}
	if first != "archive/groups/g_1/20260501T100000Z.jsonl" {
		t.Errorf("first path = %s", first)
	}
	if second == first {
		t.Fatalf("second archive overwrote %s", first)
	}

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(blobs.objects[first]), &rec); err != nil {
		t.Fatalf("archive is not JSONL: %v", err)
	}
	if rec["group_name"] != "Jammin" || rec["username"] != "marcus254" || rec["role"] != "leader" {
		t.Errorf("archived record = %v", rec)
	}
}

func TestExportLedger_WritesBothLogs(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs()
	log := fakeLog{
		txs: []domain.Transaction{{ID: "t1", OrderType: domain.OrderBuy, OrderAmount: decimal.NewFromInt(2)}},
		updates: []domain.PortfolioUpdate{
			{ID: 1, TransactionID: "t1", Username: "a"},
			{ID: 2, TransactionID: "t1", Username: "b"},
		},
	}
	a := NewArchiver(blobs, nil, log.txStore(), updateFunc(func() []domain.PortfolioUpdate { return log.updates }), discardLogger())

	before := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	prefix, err := a.ExportLedger(ctx, before)
	if err != nil {
		t.Fatalf("ExportLedger() error = %v", err)
	}
	if prefix != "exports/20260601T000000Z/" {
		t.Errorf("prefix = %s", prefix)
	}

	lines := func(path string) int {
		sc := bufio.NewScanner(bytes.NewReader(blobs.objects[path]))
		n := 0
		for sc.Scan() {
			n++
		}
		return n
	}
	if got := lines(prefix + "global_transactions.jsonl"); got != 1 {
		t.Errorf("transaction lines = %d, want 1", got)
	}
	if got := lines(prefix + "portfolio_updates.jsonl"); got != 2 {
		t.Errorf("portfolio update lines = %d, want 2", got)
	}
}
