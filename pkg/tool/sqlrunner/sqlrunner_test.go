package sqlrunner

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestValidateQuery(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"plain select", "SELECT * FROM users", ""},
		{"lowercase select", "select id from users", ""},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", ""},
		{"empty", "   ", "Error: query is required."},
		{"non-select", "EXPLAIN SELECT 1", "Error: only SELECT queries are allowed."},
		{"drop behind select", "SELECT 1; DROP TABLE users", "Error: query contains a prohibited keyword: drop."},
		{"hidden delete", "WITH t AS (DELETE FROM users RETURNING id) SELECT * FROM t",
			"Error: query contains a prohibited keyword: delete."},
		{"keyword as substring is fine", "SELECT created_at, updates FROM audit_log", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, validateQuery(tc.query), tc.want)
		})
	}
}
