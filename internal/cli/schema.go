package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List tables and columns of every backend",
		Long: `List the tables, views and columns each backend reports, one row per
column. Tables without columns are listed with empty column fields.

Examples:
  noctra schema --config noctra.yaml
  noctra schema --format csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	exec, err := openExecutor(ctx, opts.Config, opts.Logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start backends", err)
	}
	defer exec.Close()

	f := opts.formatter(cmd)
	rs := ir.NewResultSet("backend", "table", "kind", "column", "type")
	for _, id := range []backend.ID{backend.SQLite, backend.DuckDB} {
		b, ok := exec.Backend(id)
		if !ok {
			continue
		}
		tables, err := b.DescribeSchema(ctx)
		if err != nil {
			return reportStatementError(f, err)
		}
		for _, t := range tables {
			if len(t.Columns) == 0 {
				if err := rs.AppendRow(ir.Text(id), ir.Text(t.Name), ir.Text(t.Kind), ir.Null{}, ir.Null{}); err != nil {
					return err
				}
				continue
			}
			for _, c := range t.Columns {
				if err := rs.AppendRow(ir.Text(id), ir.Text(t.Name), ir.Text(t.Kind), ir.Text(c.Name), ir.Text(c.Type)); err != nil {
					return err
				}
			}
		}
	}
	return f.Result(rs)
}
