package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/object"
)

// renderTable writes rows as a markdown table followed by a row count.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "_Columns: %v_\n\n_No rows_\n", headers)
		return
	}

	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	fmt.Fprintf(w, "\n_%d rows_\n", len(rows))
}

// resultTable lays a query result out as a table. A list of entities or
// records gets one column per member; anything else is a single value
// column.
func resultTable(result any) ([]string, [][]string, error) {
	elems, ok := result.([]any)
	if !ok {
		elems = []any{result}
	}
	values := make([]ir.IRValue, len(elems))
	objects := len(elems) > 0
	for i, e := range elems {
		v, err := object.ToIR(e)
		if err != nil {
			return nil, nil, err
		}
		values[i] = v
		if _, isObj := v.(ir.IRObject); !isObj {
			objects = false
		}
	}

	if !objects {
		rows := make([][]string, len(values))
		for i, v := range values {
			rows[i] = []string{formatCell(v)}
		}
		return []string{"value"}, rows, nil
	}

	var headers []string
	seen := make(map[string]bool)
	for _, v := range values {
		for _, k := range v.(ir.IRObject).SortedKeys() {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
	}
	rows := make([][]string, len(values))
	for i, v := range values {
		obj := v.(ir.IRObject)
		row := make([]string, len(headers))
		for j, h := range headers {
			cell, ok := obj[h]
			if !ok {
				cell = ir.IRNull{}
			}
			row[j] = formatCell(cell)
		}
		rows[i] = row
	}
	return headers, rows, nil
}

// formatCell renders one value. Strings print bare, everything else as
// canonical JSON.
func formatCell(v ir.IRValue) string {
	switch v := v.(type) {
	case ir.IRString:
		return string(v)
	case ir.IRNull:
		return "null"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", ir.ToNative(v))
	}
	return string(data)
}
