package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// forbiddenKeywords are data- and schema-mutation keywords that must never
// appear in a generated query. Matched on word boundaries so column names
// like created_at don't trip the CREATE check.
var forbiddenKeywords = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|REPLACE|EXEC|EXECUTE)\b`)

// ValidateReadOnly rejects any query that is not a single read-only SELECT
// statement. The generated text is treated as untrusted input regardless of
// where it came from; this gate must run before any execution attempt.
func ValidateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("query does not start with SELECT or WITH")
	}

	if m := forbiddenKeywords.FindString(trimmed); m != "" {
		return fmt.Errorf("forbidden keyword %q found in query", strings.ToUpper(m))
	}

	// A single trailing terminator is tolerated; anything more means multiple
	// statements.
	if n := strings.Count(trimmed, ";"); n > 1 || (n == 1 && !strings.HasSuffix(trimmed, ";")) {
		return fmt.Errorf("multiple statements detected")
	}

	return nil
}
