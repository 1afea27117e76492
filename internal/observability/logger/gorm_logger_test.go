package logger

import "testing"

func TestOperationFromSQL(t *testing.T) {
	cases := []struct {
		sql  string
		want string
	}{
		{"SELECT * FROM sessions", "SELECT"},
		{"  insert into quota_addons values (?)", "INSERT"},
		{"WITH x AS (SELECT 1) UPDATE sessions SET a = 1", "SELECT"},
		{"DELETE FROM sessions WHERE id IN (SELECT id)", "DELETE"},
		{"", "UNKNOWN"},
		{"PRAGMA busy_timeout = 5000", "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := operationFromSQL(tc.sql); got != tc.want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", tc.sql, got, tc.want)
		}
	}
}
