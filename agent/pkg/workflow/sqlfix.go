package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	limitPattern        = regexp.MustCompile(`(?i)\bLIMIT\b`)
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	leadingWordPattern  = regexp.MustCompile(`^[(\s]*([A-Za-z]+)`)
)

// readOnlyStatements are the leading keywords of statements that cannot
// modify data.
var readOnlyStatements = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
}

// QualifyTableNames rewrites bare references to known tables that follow FROM
// or JOIN into dataset-qualified form. Backtick-quoted names keep their quoting.
// References that are already qualified are left alone, so the rewrite is
// idempotent.
func QualifyTableNames(sql, dataset string, tables []string) string {
	if dataset == "" {
		return sql
	}
	for _, table := range tables {
		if table == "" {
			continue
		}
		re := tableRefPattern(table)
		sql = re.ReplaceAllStringFunc(sql, func(m string) string {
			sub := re.FindStringSubmatch(m)
			// sub: keyword, whitespace, reference, terminator
			ref := dataset + "." + table
			if strings.HasPrefix(sub[3], "`") {
				ref = "`" + dataset + "`.`" + table + "`"
			}
			return sub[1] + sub[2] + ref + sub[4]
		})
	}
	return sql
}

func tableRefPattern(table string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(table)
	return regexp.MustCompile(`\b((?i:FROM|JOIN))(\s+)(` + "`" + quoted + "`" + `|` + quoted + `)([^\w.` + "`" + `]|$)`)
}

// AddLimit appends a LIMIT clause when the query has none. A query that
// already has LIMIT in any case outside comments is returned unchanged. When
// the last line ends in a line comment the clause goes on its own line.
func AddLimit(sql string, n int) string {
	if limitPattern.MatchString(stripComments(sql)) {
		return sql
	}
	trimmed := strings.TrimRight(strings.TrimSpace(sql), "; \t\r\n")
	lastLine := trimmed[strings.LastIndex(trimmed, "\n")+1:]
	if strings.Contains(lastLine, "--") {
		return fmt.Sprintf("%s\nLIMIT %d", trimmed, n)
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, n)
}

// CheckReadOnly rejects statements that do not start with a read-only
// keyword. The warehouse enforces read-only execution as well.
func CheckReadOnly(sql string) error {
	body := strings.TrimRight(strings.TrimSpace(stripComments(sql)), "; \t\r\n")
	m := leadingWordPattern.FindStringSubmatch(body)
	if m == nil {
		return fmt.Errorf("query is not a read-only statement")
	}
	keyword := strings.ToUpper(m[1])
	if !readOnlyStatements[keyword] {
		return fmt.Errorf("query is not read-only: %s statements are not allowed", keyword)
	}
	return nil
}

func stripComments(sql string) string {
	sql = blockCommentPattern.ReplaceAllString(sql, " ")
	return lineCommentPattern.ReplaceAllString(sql, "")
}

// CleanSQL strips markdown code fences and surrounding whitespace.
func CleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	if strings.HasPrefix(sql, "```") {
		sql = strings.TrimPrefix(sql, "```sql")
		sql = strings.TrimPrefix(sql, "```")
		sql = strings.TrimSuffix(sql, "```")
		sql = strings.TrimSpace(sql)
	}
	return sql
}
