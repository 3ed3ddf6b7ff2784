package workflow

import (
	"strings"
)

// FormatSchema renders the schemas of a dataset's tables as a text block for
// the query generation prompt. Tables appear in the order given; tables
// without a schema entry are listed with an unavailable marker so the model
// still sees their names.
func FormatSchema(dataset string, tables []string, schemas map[string][]Column) string {
	var sb strings.Builder

	sb.WriteString("## AVAILABLE TABLES (use ONLY these exact names)\n\n")
	for _, t := range tables {
		sb.WriteString("  - " + qualifiedName(dataset, t) + "\n")
	}

	sb.WriteString("\n---\n\n## TABLE DETAILS\n\n")
	for i, t := range tables {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(qualifiedName(dataset, t) + ":\n")

		cols := schemas[t]
		if len(cols) == 0 {
			sb.WriteString("  (schema unavailable)\n")
			continue
		}
		for _, col := range cols {
			line := "  - " + col.Name + " (" + col.Type + ")"
			if col.Mode != "" && col.Mode != "NULLABLE" {
				line += " [" + col.Mode + "]"
			}
			if col.Description != "" {
				line += ": " + col.Description
			}
			sb.WriteString(line + "\n")
		}
	}

	return sb.String()
}

func qualifiedName(dataset, table string) string {
	if dataset == "" {
		return table
	}
	return dataset + "." + table
}
