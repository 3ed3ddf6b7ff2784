package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualifyTableNames(t *testing.T) {
	tables := []string{"orders", "customers", "order_items"}

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "bare from",
			sql:  "SELECT * FROM orders",
			want: "SELECT * FROM sales.orders",
		},
		{
			name: "lowercase keywords and join",
			sql:  "select o.id from orders o join customers c on o.cid = c.id",
			want: "select o.id from sales.orders o join sales.customers c on o.cid = c.id",
		},
		{
			name: "backticked name keeps quoting",
			sql:  "SELECT count() FROM `orders`",
			want: "SELECT count() FROM `sales`.`orders`",
		},
		{
			name: "already qualified is untouched",
			sql:  "SELECT * FROM sales.orders JOIN `sales`.`customers` USING (id)",
			want: "SELECT * FROM sales.orders JOIN `sales`.`customers` USING (id)",
		},
		{
			name: "longer identifier is not corrupted",
			sql:  "SELECT * FROM orders_archive",
			want: "SELECT * FROM orders_archive",
		},
		{
			name: "distinct table sharing a prefix",
			sql:  "SELECT * FROM order_items",
			want: "SELECT * FROM sales.order_items",
		},
		{
			name: "column named like a table is untouched",
			sql:  "SELECT orders FROM customers WHERE orders > 1",
			want: "SELECT orders FROM sales.customers WHERE orders > 1",
		},
		{
			name: "newline and trailing semicolon",
			sql:  "SELECT *\nFROM\n  orders;",
			want: "SELECT *\nFROM\n  sales.orders;",
		},
		{
			name: "subquery",
			sql:  "SELECT * FROM (SELECT id FROM orders) t",
			want: "SELECT * FROM (SELECT id FROM sales.orders) t",
		},
		{
			name: "unknown table",
			sql:  "SELECT * FROM products",
			want: "SELECT * FROM products",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualifyTableNames(tt.sql, "sales", tables)
			assert.Equal(t, tt.want, got)

			// A second pass must not change anything.
			assert.Equal(t, got, QualifyTableNames(got, "sales", tables))
		})
	}
}

func TestQualifyTableNames_DatasetNamedLikeTable(t *testing.T) {
	got := QualifyTableNames("SELECT * FROM sales", "sales", []string{"sales"})
	assert.Equal(t, "SELECT * FROM sales.sales", got)
	assert.Equal(t, got, QualifyTableNames(got, "sales", []string{"sales"}))
}

func TestQualifyTableNames_EmptyDataset(t *testing.T) {
	sql := "SELECT * FROM orders"
	assert.Equal(t, sql, QualifyTableNames(sql, "", []string{"orders"}))
}

func TestAddLimit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"no limit", "SELECT * FROM t", "SELECT * FROM t LIMIT 10"},
		{"trailing semicolon", "SELECT * FROM t;  ", "SELECT * FROM t LIMIT 10"},
		{"upper limit", "SELECT * FROM t LIMIT 5", "SELECT * FROM t LIMIT 5"},
		{"lower limit", "select * from t limit 100", "select * from t limit 100"},
		{"mixed case limit", "SELECT * FROM t Limit 3", "SELECT * FROM t Limit 3"},
		{"identifier containing limit", "SELECT rate_limit FROM t", "SELECT rate_limit FROM t LIMIT 10"},
		{"trailing line comment", "SELECT * FROM t -- top rows", "SELECT * FROM t -- top rows\nLIMIT 10"},
		{"limit only in line comment", "SELECT * FROM t -- no limit here", "SELECT * FROM t -- no limit here\nLIMIT 10"},
		{"limit only in block comment", "SELECT * FROM t /* limit */", "SELECT * FROM t /* limit */ LIMIT 10"},
		{"comment on earlier line", "-- totals\nSELECT * FROM t", "-- totals\nSELECT * FROM t LIMIT 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddLimit(tt.sql, 10)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, AddLimit(got, 10))
		})
	}
}

func TestCheckReadOnly(t *testing.T) {
	allowed := []string{
		"SELECT 1",
		"select region FROM sales.orders",
		"WITH t AS (SELECT 1) SELECT * FROM t",
		"(SELECT 1) UNION ALL (SELECT 2)",
		"-- totals\nSELECT 1;",
		"/* drop */ SELECT 1",
		"SHOW TABLES",
		"DESCRIBE TABLE sales.orders",
		"EXPLAIN SELECT 1",
	}
	for _, sql := range allowed {
		assert.NoError(t, CheckReadOnly(sql), sql)
	}

	rejected := map[string]string{
		"DROP TABLE sales.orders":                       "DROP",
		"ALTER TABLE sales.orders DELETE WHERE 1":       "ALTER",
		"INSERT INTO sales.orders SELECT * FROM x":      "INSERT",
		"truncate table sales.orders":                   "TRUNCATE",
		"-- SELECT 1\nDELETE FROM sales.orders WHERE 1": "DELETE",
	}
	for sql, keyword := range rejected {
		err := CheckReadOnly(sql)
		require.Error(t, err, sql)
		assert.Contains(t, err.Error(), keyword+" statements are not allowed")
	}

	for _, sql := range []string{"", ";", "-- SELECT 1"} {
		assert.Error(t, CheckReadOnly(sql), "%q", sql)
	}
}

func TestCleanSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", CleanSQL("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", CleanSQL("```\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", CleanSQL("  SELECT 1 "))
}
