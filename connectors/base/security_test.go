// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain query untouched",
			input: "SELECT * FROM users",
			want:  "SELECT * FROM users",
		},
		{
			name:  "sql fence stripped",
			input: "```sql\nSELECT id FROM orders\n```",
			want:  "SELECT id FROM orders",
		},
		{
			name:  "bare fence stripped",
			input: "```\nSELECT 1\n```",
			want:  "SELECT 1",
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  \n SELECT name FROM t \n ",
			want:  "SELECT name FROM t",
		},
		{
			name:  "empty input",
			input: "   ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanQuery(tt.input))
		})
	}
}

func TestValidateReadOnlyAllows(t *testing.T) {
	queries := []string{
		"SELECT * FROM users",
		"select id, name from users where id = 1",
		"WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
		"EXPLAIN SELECT * FROM users",
		"SHOW TABLES",
		"DESCRIBE users",
		"PRAGMA table_info('users')",
		// Keywords inside string literals are data, not statements.
		"SELECT * FROM logs WHERE message = 'please DROP me a line'",
		"SELECT 'DELETE' AS action FROM audit",
	}

	for _, q := range queries {
		assert.NoError(t, ValidateReadOnly(q), "query: %s", q)
	}
}

func TestValidateReadOnlyRejects(t *testing.T) {
	queries := []string{
		"INSERT INTO users (name) VALUES ('x')",
		"UPDATE users SET name = 'x'",
		"DELETE FROM users",
		"DROP TABLE users",
		"TRUNCATE users",
		"CREATE TABLE t (id int)",
		"ALTER TABLE users ADD COLUMN x int",
		"GRANT ALL ON users TO bob",
		"SELECT * FROM users; DROP TABLE users",
		"select * into backup from users",
		"",
	}

	for _, q := range queries {
		assert.Error(t, ValidateReadOnly(q), "query: %s", q)
	}
}

func TestSanitizeLogString(t *testing.T) {
	require.Equal(t, "a\\nb", SanitizeLogString("a\nb"))

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	sanitized := SanitizeLogString(string(long))
	assert.True(t, strings.HasSuffix(sanitized, "...[truncated]"))
	assert.Less(t, len(sanitized), 600)
}
