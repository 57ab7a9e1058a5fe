package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

func TestParseCutoff(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "0s", want: now},
		{in: "720h", want: now.Add(-720 * time.Hour)},
		{in: "2026-01-05T09:00:00+01:00", want: time.Date(2026, time.January, 5, 8, 0, 0, 0, time.UTC)},
		{in: "-1h", wantErr: true},
		{in: "last week", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCutoff(tt.in, now)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseCutoff(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCutoff(%q) error = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseCutoff(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type fakeArchive map[string]string

func (f fakeArchive) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f fakeArchive) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (f fakeArchive) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f[path]
	return ok, nil
}

func TestCopyArchive(t *testing.T) {
	ctx := context.Background()
	blobs := fakeArchive{
		"archive/groups/g_1/members.json": `[{"role":"leader","username":"marcus254"}]`,
	}

	var out bytes.Buffer
	if err := copyArchive(ctx, blobs, "archive/groups/g_1/members.json", &out); err != nil {
		t.Fatalf("copyArchive() error = %v", err)
	}
	if !strings.Contains(out.String(), "marcus254") {
		t.Errorf("output = %q", out.String())
	}

	err := copyArchive(ctx, blobs, "archive/groups/missing.json", &out)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing archive error = %v, want ErrNotFound", err)
	}
}
