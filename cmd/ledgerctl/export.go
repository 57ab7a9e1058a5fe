package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

type exportCmd struct {
	before string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export ledger history to object storage" }
func (*exportCmd) Usage() string {
	return `ledgerctl [-config <file>] export [-before <RFC3339 | duration>]

  Writes every transaction and portfolio update timestamped before the
  cutoff to object storage as JSON lines and prints the export prefix.
  Nothing is deleted from the store. Requires s3.enabled.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.before, "before", "0s", "Cutoff as an RFC 3339 timestamp or a duration ago (e.g. 720h).")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	before, err := parseCutoff(c.before, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	e, err := open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.cleanup()

	if e.deps.Archiver == nil {
		fmt.Fprintln(os.Stderr, "object storage is not configured (s3.enabled = false)")
		return subcommands.ExitFailure
	}
	prefix, err := e.deps.Archiver.ExportLedger(ctx, before)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Println(prefix)
	return subcommands.ExitSuccess
}

// parseCutoff accepts an RFC 3339 timestamp or a duration subtracted from
// now.
func parseCutoff(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid cutoff %q: want an RFC 3339 timestamp or a non-negative duration", v)
	}
	return now.Add(-d), nil
}

type archivesCmd struct {
	prefix string
	get    string
}

func (*archivesCmd) Name() string     { return "archives" }
func (*archivesCmd) Synopsis() string { return "list archived memberships and ledger exports" }
func (*archivesCmd) Usage() string {
	return `ledgerctl [-config <file>] archives [-prefix <path>]
ledgerctl [-config <file>] archives -get <path>

  Lists objects written by group deletions and ledger exports. With -get,
  copies one object (a membership archive or an export file) to stdout.
`
}

func (c *archivesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.prefix, "prefix", "", "Only list objects under this path (e.g. archive/groups/).")
	f.StringVar(&c.get, "get", "", "Print the object at this path instead of listing.")
}

func (c *archivesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.cleanup()

	if e.deps.BlobReader == nil {
		fmt.Fprintln(os.Stderr, "object storage is not configured (s3.enabled = false)")
		return subcommands.ExitFailure
	}
	if c.get != "" {
		if err := copyArchive(ctx, e.deps.BlobReader, c.get, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	blobs, err := e.deps.BlobReader.List(ctx, c.prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tMODIFIED")
	for _, b := range blobs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", b.Path, b.Size, b.LastModified.Format(time.RFC3339))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// copyArchive writes the object at path to w.
func copyArchive(ctx context.Context, r domain.BlobReader, path string, w io.Writer) error {
	ok, err := r.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%w: no archive at %s", domain.ErrNotFound, path)
	}
	body, err := r.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}
