package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/dbapi"
)

func params(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

// finish commits the main transaction when err is nil, rolls it back
// otherwise, and closes the connection.
func finish(conn *dbapi.Connection, err error) error {
	if err == nil {
		err = conn.Commit(false)
	} else {
		err = multierr.Append(err, conn.Rollback(false))
	}
	return multierr.Append(err, conn.Close())
}

func newCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.dbConfig()
			if err != nil {
				return err
			}
			conn, err := dbapi.CreateDatabase(opts.engine, cfg)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", cfg.Database, err)
			}
			if err := conn.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", cfg.Database)
			return nil
		},
	}
}

func newQueryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query SQL [PARAM...]",
		Short: "Run a query and print its rows as a table",
		Long: `Run a query and print its rows as a table.

Parameters are bound to the ? placeholders in order and converted to the
declared parameter types.

Examples:
  fbsql query -d app.fdb "SELECT * FROM ITEMS"
  fbsql query -d app.fdb "SELECT NAME FROM ITEMS WHERE ID = ?" 42`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect()
			if err != nil {
				return err
			}
			return finish(conn, runQuery(cmd, conn, args[0], params(args[1:])))
		},
	}
}

func runQuery(cmd *cobra.Command, conn *dbapi.Connection, sql string, params []any) error {
	cur, err := conn.Cursor()
	if err != nil {
		return err
	}
	defer cur.Close()
	if err := cur.Execute(sql, params...); err != nil {
		return err
	}
	cols := cur.Description()
	if cols == nil {
		return fmt.Errorf("statement returns no rows, use exec")
	}
	rows, err := cur.FetchAll()
	if err != nil {
		return err
	}
	return renderRows(cmd.OutOrStdout(), cols, rows)
}

func newExecCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec SQL [PARAM...]",
		Short: "Run a statement and commit it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect()
			if err != nil {
				return err
			}
			return finish(conn, runExec(cmd, conn, args[0], params(args[1:])))
		},
	}
}

func runExec(cmd *cobra.Command, conn *dbapi.Connection, sql string, params []any) error {
	cur, err := conn.Cursor()
	if err != nil {
		return err
	}
	defer cur.Close()
	if err := cur.Execute(sql, params...); err != nil {
		return err
	}
	n, err := cur.RowCount()
	if err != nil {
		return err
	}
	if n >= 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s affected\n", n, plural(n, "row", "rows"))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
	}
	return nil
}

func newInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print database information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect()
			if err != nil {
				return err
			}
			return finish(conn, runInfo(cmd, conn))
		},
	}
}

func runInfo(cmd *cobra.Command, conn *dbapi.Connection) error {
	var pairs [][2]string
	add := func(key string, value any, err error) error {
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		pairs = append(pairs, [2]string{key, fmt.Sprint(value)})
		return nil
	}
	version, err := conn.ServerVersion()
	if err := add("Server version", version, err); err != nil {
		return err
	}
	ods, err := conn.ODSVersion()
	if err := add("ODS version", ods, err); err != nil {
		return err
	}
	dialect, err := conn.SQLDialect()
	if err := add("SQL dialect", dialect, err); err != nil {
		return err
	}
	pageSize, err := conn.PageSize()
	if err := add("Page size", pageSize, err); err != nil {
		return err
	}
	pages, err := conn.SizeInPages()
	if err := add("Pages", pages, err); err != nil {
		return err
	}
	readOnly, err := conn.ReadOnly()
	if err := add("Read only", readOnly, err); err != nil {
		return err
	}
	id, err := conn.AttachmentID()
	if err := add("Attachment ID", id, err); err != nil {
		return err
	}
	stats, err := conn.IOStats()
	if err := add("Reads", stats.Reads, err); err != nil {
		return err
	}
	if err := add("Writes", stats.Writes, nil); err != nil {
		return err
	}
	return renderPairs(cmd.OutOrStdout(), pairs)
}

func newListenCommand(opts *RootOptions) *cobra.Command {
	var timeout time.Duration
	var trigger string

	cmd := &cobra.Command{
		Use:   "listen EVENT...",
		Short: "Wait for database events and print their counts",
		Long: `Wait for database events and print how often each was posted.

The command registers interest in every named event and returns once at
least one of them is posted or the timeout expires. --trigger runs and
commits a statement after registration, which is useful to post events
from the same process.

Examples:
  fbsql listen -d app.fdb ORDER_PLACED --timeout 30s
  fbsql listen -d app.fdb ORDER_PLACED --trigger "SELECT post_event('ORDER_PLACED')"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect()
			if err != nil {
				return err
			}
			return finish(conn, runListen(cmd, conn, args, trigger, timeout))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().StringVar(&trigger, "trigger", "", "statement to run and commit once listening")

	return cmd
}

func runListen(cmd *cobra.Command, conn *dbapi.Connection, names []string, trigger string, timeout time.Duration) (err error) {
	conduit, err := conn.EventConduit(names...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, conduit.Close()) }()
	if err := conduit.Begin(); err != nil {
		return err
	}
	if trigger != "" {
		t, err := conn.MainTransaction()
		if err != nil {
			return err
		}
		if err := t.ExecuteImmediate(trigger); err != nil {
			return err
		}
		if err := t.Commit(false); err != nil {
			return err
		}
	}
	if timeout == 0 {
		timeout = -1
	}
	counts, err := conduit.Wait(timeout)
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Timed out waiting for events")
		err = nil
	}
	if err != nil {
		return err
	}
	sorted := make([]string, 0, len(counts))
	for name := range counts {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	pairs := make([][2]string, len(sorted))
	for i, name := range sorted {
		pairs[i] = [2]string{name, strconv.Itoa(counts[name])}
	}
	return renderPairs(cmd.OutOrStdout(), pairs)
}

func newPostCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "post EVENT...",
		Short: "Post events to listeners of this process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect()
			if err != nil {
				return err
			}
			err = opts.engine.PostEvent(conn.Native(), args...)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Posted %d %s\n", len(args), plural(int64(len(args)), "event", "events"))
			}
			return finish(conn, err)
		},
	}
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
