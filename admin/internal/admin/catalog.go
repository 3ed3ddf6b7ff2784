package admin

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

// PrintCatalog lists every dataset with its tables and column counts.
func PrintCatalog(ctx context.Context, w io.Writer, wh workflow.Warehouse) error {
	datasets, err := wh.ListDatasets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list datasets: %w", err)
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Dataset", "Table", "Columns"})

	for _, dataset := range datasets {
		tables, err := wh.ListTables(ctx, dataset)
		if err != nil {
			return fmt.Errorf("failed to list tables in %s: %w", dataset, err)
		}
		if len(tables) == 0 {
			table.Append([]string{dataset, "(no tables)", ""})
			continue
		}
		name := dataset
		for _, t := range tables {
			cols, err := wh.GetTableSchema(ctx, dataset, t)
			if err != nil {
				return fmt.Errorf("failed to read schema of %s.%s: %w", dataset, t, err)
			}
			table.Append([]string{name, t, strconv.Itoa(len(cols))})
			name = ""
		}
	}
	table.Render()
	return nil
}
