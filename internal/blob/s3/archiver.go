package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// TransactionArchiveStore provides read access to the transaction log for
// exports.
type TransactionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error)
}

// PortfolioArchiveStore provides read access to the portfolio update log for
// exports.
type PortfolioArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.PortfolioUpdate, error)
}

// exportPartSize is the multipart part size used for ledger exports.
const exportPartSize int64 = 8 * 1024 * 1024

// ArchiveImpl implements domain.Archiver by serialising records to JSONL
// and uploading them. Nothing is deleted from the primary store.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	reader     domain.BlobReader
	txs        TransactionArchiveStore
	portfolios PortfolioArchiveStore
	logger     *slog.Logger
	now        func() time.Time
}

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case
// existing objects are not checked before writing.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	txs TransactionArchiveStore,
	portfolios PortfolioArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		reader:     reader,
		txs:        txs,
		portfolios: portfolios,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type memberRecord struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
	domain.Member
}

// ArchiveMembership uploads the membership rows of group to
// archive/groups/<id>/<timestamp>.jsonl and returns the object path.
func (a *ArchiveImpl) ArchiveMembership(ctx context.Context, group domain.Group, members []domain.Member) (string, error) {
	records := make([]memberRecord, len(members))
	for i, m := range members {
		records[i] = memberRecord{GroupID: group.ID, GroupName: group.Name, Member: m}
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive membership marshal: %w", err)
	}

	path, err := a.freePath(ctx, fmt.Sprintf("archive/groups/%s/%s", group.ID, a.now().Format("20060102T150405Z")), ".jsonl")
	if err != nil {
		return "", err
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive membership upload: %w", err)
	}

	a.logger.InfoContext(ctx, "membership archived",
		slog.String("group_id", group.ID),
		slog.String("path", path),
		slog.Int("members", len(members)),
	)
	return path, nil
}

// ExportLedger streams every transaction and portfolio update older than
// before to exports/<before>/ and returns that prefix.
func (a *ArchiveImpl) ExportLedger(ctx context.Context, before time.Time) (string, error) {
	prefix := "exports/" + before.UTC().Format("20060102T150405Z") + "/"

	txs, err := a.txs.ListBefore(ctx, before)
	if err != nil {
		return "", fmt.Errorf("s3blob: export transactions query: %w", err)
	}
	if err := streamJSONL(ctx, a.writer, prefix+"global_transactions.jsonl", txs); err != nil {
		return "", err
	}

	updates, err := a.portfolios.ListBefore(ctx, before)
	if err != nil {
		return "", fmt.Errorf("s3blob: export portfolio updates query: %w", err)
	}
	if err := streamJSONL(ctx, a.writer, prefix+"portfolio_updates.jsonl", updates); err != nil {
		return "", err
	}

	a.logger.InfoContext(ctx, "ledger exported",
		slog.String("prefix", prefix),
		slog.Int("transactions", len(txs)),
		slog.Int("portfolio_updates", len(updates)),
	)
	return prefix, nil
}

// streamJSONL encodes records through a pipe into a multipart upload so
// large exports are never buffered whole.
func streamJSONL[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	pr, pw := io.Pipe()
	go func() {
		enc := json.NewEncoder(pw)
		enc.SetEscapeHTML(false)
		for i := range records {
			if err := enc.Encode(records[i]); err != nil {
				pw.CloseWithError(fmt.Errorf("jsonl encode record %d: %w", i, err))
				return
			}
		}
		pw.Close()
	}()
	if err := w.PutMultipart(ctx, path, pr, exportPartSize); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("s3blob: export upload %s: %w", path, err)
	}
	return nil
}

// freePath returns base+ext, or base-N+ext if that object already exists.
func (a *ArchiveImpl) freePath(ctx context.Context, base, ext string) (string, error) {
	path := base + ext
	if a.reader == nil {
		return path, nil
	}
	for n := 1; ; n++ {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if !exists {
			return path, nil
		}
		path = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
