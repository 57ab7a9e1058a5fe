package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

type initCmd struct{}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "create any missing fixed table" }
func (*initCmd) Usage() string {
	return `ledgerctl [-config <file>] init

  Creates the groups, users, transactions and portfolio_updates tables when
  they are missing, then prints every catalogued table. Safe to re-run.
`
}
func (*initCmd) SetFlags(*flag.FlagSet) {}

func (*initCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.cleanup()

	tables, err := e.services.Schema.Initialize(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	printTables(tables)
	return subcommands.ExitSuccess
}

type tablesCmd struct{}

func (*tablesCmd) Name() string     { return "tables" }
func (*tablesCmd) Synopsis() string { return "list every catalogued table" }
func (*tablesCmd) Usage() string {
	return `ledgerctl [-config <file>] tables

  Lists the fixed tables, the per-group membership tables and the per-user
  views, read directly from the store.
`
}
func (*tablesCmd) SetFlags(*flag.FlagSet) {}

func (*tablesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.cleanup()

	tables, err := e.services.Schema.ListTables(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	printTables(tables)
	return subcommands.ExitSuccess
}

type resetCmd struct {
	yes bool
}

func (*resetCmd) Name() string     { return "reset" }
func (*resetCmd) Synopsis() string { return "drop every table and re-create the fixed ones" }
func (*resetCmd) Usage() string {
	return `ledgerctl [-config <file>] reset -yes

  Drops every table, including group membership tables and user views, and
  re-creates the empty fixed tables. All ledger history is lost. Running
  servers keep their in-process idempotency keys; prefer POST
  /api/admin/reset when a server is up.
`
}

func (r *resetCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.yes, "yes", false, "Confirm the reset.")
}

func (r *resetCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !r.yes {
		fmt.Fprintln(os.Stderr, "reset destroys all data; pass -yes to confirm")
		return subcommands.ExitUsageError
	}
	e, err := open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.cleanup()

	tables, err := e.services.Schema.Reset(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	printTables(tables)
	return subcommands.ExitSuccess
}

func printTables(tables []string) {
	for _, t := range tables {
		fmt.Println(t)
	}
}
