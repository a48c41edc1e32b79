package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/navq/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit   int  // most recent entries to show, 0 for all
	Failed  bool // only executions that did not succeed
	ShowSQL bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the execution log of the configured database",
		Long: `List the executions recorded in the configured database, oldest first.

Each entry records the plan fingerprint, the row and query counts and the
outcome: ok, or the runtime error code.

Examples:
  navq history --limit 10
  navq history --failed --sql`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "show only the most recent entries")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "show only failed executions")
	cmd.Flags().BoolVar(&opts.ShowSQL, "sql", false, "include the SQL text")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := store.Open(opts.Config.Database.Path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("opening database: %v", err), nil)
	}
	defer st.Close()

	read := st.ReadExecutions
	if opts.Failed {
		read = st.ReadFailures
	}
	log, err := read(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	if opts.Limit > 0 && len(log) > opts.Limit {
		log = log[len(log)-opts.Limit:]
	}

	if formatter.Format == "json" {
		return formatter.Success(log)
	}

	headers := []string{"seq", "id", "fingerprint", "rows", "queries", "outcome"}
	if opts.ShowSQL {
		headers = append(headers, "sql")
	}
	rows := make([][]string, len(log))
	for i, e := range log {
		row := []string{
			strconv.FormatInt(e.Seq, 10),
			e.ID,
			abbrev(e.Fingerprint, 12),
			strconv.Itoa(e.RowCount),
			strconv.Itoa(e.Queries),
			e.Outcome,
		}
		if opts.ShowSQL {
			row = append(row, e.SQL)
		}
		rows[i] = row
	}
	renderTable(formatter.Writer, headers, rows)
	return nil
}

func abbrev(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
