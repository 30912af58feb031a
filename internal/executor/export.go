package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/rql"
)

// ExportColumn names the single column of an inline export result.
const ExportColumn = "export"

// export runs the inner query on its routed backend and writes the result.
// With a path, the file is replaced and the result reports the number of
// rows written. Without one, the rendered document is returned as a single
// text value.
func (e *Executor) export(ctx context.Context, s *rql.Export, args []ir.Value, id backend.ID) (*ir.ResultSet, error) {
	b, err := e.backend(id)
	if err != nil {
		return nil, err
	}
	rs, err := b.Execute(ctx, backend.Request{SQL: s.Query.SQL, Args: args, Mode: backend.ModeQuery})
	if err != nil {
		return nil, err
	}

	if s.Path == "" {
		var buf bytes.Buffer
		if err := render(&buf, rs, s.Format); err != nil {
			return nil, ir.NewInternalError(fmt.Sprintf("render %s: %v", s.Format, err))
		}
		out := ir.NewResultSet(ExportColumn)
		if err := out.AppendRow(ir.Text(buf.String())); err != nil {
			return nil, err
		}
		return out, nil
	}

	if err := writeFile(s.Path, rs, s.Format); err != nil {
		return nil, ir.NewBackendError("export", "write "+s.Path, err)
	}
	e.logger.InfoContext(ctx, "result exported", "path", s.Path, "format", s.Format, "rows", len(rs.Rows))
	return ir.NewExecResult(int64(len(rs.Rows))), nil
}

func writeFile(path string, rs *ir.ResultSet, format rql.ExportFormat) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return render(f, rs, format)
}

func render(w io.Writer, rs *ir.ResultSet, format rql.ExportFormat) error {
	switch format {
	case rql.ExportCSV:
		return rs.WriteDelimited(w, ',')
	case rql.ExportTSV:
		return rs.WriteDelimited(w, '\t')
	case rql.ExportJSON:
		return rs.WriteJSON(w)
	case rql.ExportYAML:
		return rs.WriteYAML(w)
	}
	return fmt.Errorf("unsupported export format %q", format)
}
