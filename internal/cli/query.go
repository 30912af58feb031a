package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/noctra/internal/executor"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/template"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Params []string // name=value pairs
	Args   []string // positional values, in order
	File   string   // script file
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [statement]",
		Short: "Execute an RQL statement or script",
		Long: `Execute a single RQL statement, or every statement of a script file, in
one session.

Parameter values are typed from their text: integers, floats, true, false
and null are recognized, quoted values and everything else are text.

Exit codes:
  0 - All statements succeeded
  1 - A statement failed
  2 - Command error (bad flags, unreadable file, bad config)

Examples:
  noctra query "SELECT * FROM users WHERE id = :id" --param id=7
  noctra query "SELECT \$1 + \$2" --arg 1 --arg 2
  noctra query --file setup.rql --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "named parameter as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "positional parameter value (repeatable)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "run every statement in a script file")

	return cmd
}

func runQuery(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	if (len(args) == 0) == (opts.File == "") {
		return NewExitError(ExitCommandError, "provide either a statement or --file")
	}
	if opts.File != "" && len(opts.Args) > 0 {
		return NewExitError(ExitCommandError, "--arg cannot be used with --file")
	}

	named, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --param", err)
	}
	positional := make([]ir.Value, len(opts.Args))
	for i, a := range opts.Args {
		positional[i] = template.Infer(a)
	}

	var script string
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read script", err)
		}
		script = string(data)
	}

	ctx := cmd.Context()
	exec, err := openExecutor(ctx, opts.Config, opts.Logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start backends", err)
	}
	defer exec.Close()

	f := opts.formatter(cmd)
	sess := newSession(opts.Config)

	if opts.File == "" {
		rs, err := exec.Execute(ctx, sess, executor.Query{Text: args[0], Named: named, Positional: positional})
		if err != nil {
			return reportStatementError(f, err)
		}
		return f.Result(rs)
	}

	results, runErr := exec.ExecuteScript(ctx, sess, script, named)
	for i, rs := range results {
		if i > 0 && opts.Format == "text" {
			fmt.Fprintln(f.Writer)
		}
		if err := f.Result(rs); err != nil {
			return err
		}
	}
	if runErr != nil {
		f.VerboseLog("script stopped after %d statement(s)", len(results))
		return reportStatementError(f, runErr)
	}
	return nil
}

// parseParams converts name=value pairs. A leading ':' on the name is
// accepted so that names can be copied from the statement.
func parseParams(pairs []string) (map[string]ir.Value, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]ir.Value, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q is not name=value", pair)
		}
		out[name] = template.Infer(value)
	}
	return out, nil
}
