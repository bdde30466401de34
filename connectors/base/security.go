// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"fmt"
	"regexp"
	"strings"
)

// CleanQuery strips markdown code-fence wrapping from a query. Model output
// may arrive fenced (```sql ... ```), bare-fenced (``` ... ```) or unfenced;
// all three shapes normalize to the plain statement.
func CleanQuery(query string) string {
	q := strings.TrimSpace(query)
	if strings.HasPrefix(q, "```") {
		q = strings.TrimPrefix(q, "```")
		// Language tag on the opening fence, e.g. ```sql or ```json.
		if idx := strings.IndexAny(q, "\n\r"); idx != -1 {
			firstLine := strings.TrimSpace(q[:idx])
			if firstLine != "" && !strings.ContainsAny(firstLine, " \t") && len(firstLine) <= 10 {
				q = q[idx+1:]
			}
		} else {
			q = strings.TrimSpace(q)
			q = strings.TrimPrefix(q, "sql")
		}
	}
	q = strings.TrimSuffix(strings.TrimSpace(q), "```")
	return strings.TrimSpace(q)
}

// allowedPrefixes are the statement forms the read-only policy accepts.
var allowedPrefixes = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "PRAGMA"}

// dangerousKeywords are DML/DDL keywords blocked regardless of position,
// evaluated against a copy of the query with strings and comments removed.
var dangerousKeywords = []struct {
	pattern *regexp.Regexp
	desc    string
}{
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])INSERT(?:[^a-zA-Z_]|$)`), "INSERT"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])UPDATE(?:[^a-zA-Z_]|$)`), "UPDATE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])DELETE(?:[^a-zA-Z_]|$)`), "DELETE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])DROP(?:[^a-zA-Z_]|$)`), "DROP"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])CREATE(?:[^a-zA-Z_]|$)`), "CREATE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])ALTER(?:[^a-zA-Z_]|$)`), "ALTER"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])TRUNCATE(?:[^a-zA-Z_]|$)`), "TRUNCATE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])GRANT(?:[^a-zA-Z_]|$)`), "GRANT"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])REVOKE(?:[^a-zA-Z_]|$)`), "REVOKE"},
	// SELECT ... INTO writes a new table.
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])INTO(?:[^a-zA-Z_]|$)`), "INTO"},
}

var setStatementPattern = regexp.MustCompile(`(?i)(?:^|;)\s*SET\b`)

// ValidateReadOnly rejects statements that could modify data or schema.
// The generated-query pipeline is read-only by design; this is the hard
// enforcement behind the prompt-level instruction.
func ValidateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	upper := strings.ToUpper(trimmed)
	allowed := false
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(upper, prefix+" ") || strings.HasPrefix(upper, prefix+"\n") ||
			strings.HasPrefix(upper, prefix+"(") || upper == prefix {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("only SELECT, WITH, SHOW, DESCRIBE, EXPLAIN and PRAGMA queries are allowed")
	}

	cleaned := stripStringsAndComments(trimmed)

	// A trailing semicolon is fine; a second statement is not.
	if idx := strings.Index(cleaned, ";"); idx != -1 {
		if strings.TrimSpace(cleaned[idx+1:]) != "" {
			return fmt.Errorf("multiple statements are not allowed")
		}
	}

	for _, dk := range dangerousKeywords {
		if dk.pattern.MatchString(cleaned) {
			return fmt.Errorf("query contains forbidden keyword: %s", dk.desc)
		}
	}

	if setStatementPattern.MatchString(cleaned) {
		return fmt.Errorf("SET statements are not allowed")
	}

	return nil
}

// stripStringsAndComments blanks out string literals and SQL comments so the
// keyword scan does not trip on data values.
func stripStringsAndComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		switch {
		case s[i] == '\'' || s[i] == '"':
			quote := s[i]
			i++
			for i < len(s) {
				if s[i] == quote {
					// Doubled quote is an escaped quote inside the literal.
					if i+1 < len(s) && s[i+1] == quote {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			b.WriteByte(' ')
		case strings.HasPrefix(s[i:], "--"):
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case strings.HasPrefix(s[i:], "/*"):
			i += 2
			for i < len(s) && !strings.HasPrefix(s[i:], "*/") {
				i++
			}
			if i < len(s) {
				i += 2
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(s[i])
			i++
		}
	}

	return b.String()
}

var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// SanitizeLogString removes characters that could be used for log injection
// and caps the length to prevent log flooding.
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiEscapePattern.ReplaceAllString(s, "")
	const maxLogLength = 500
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}
