package source

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reSeparators = regexp.MustCompile(`[()/%-]`)
	reNonAlnum   = regexp.MustCompile(`[^0-9a-zA-Z]+`)
)

// SnakeCase turns a spreadsheet header such as "Frequent Physical Distress
// raw value" into "frequent_physical_distress_raw_value".
func SnakeCase(name string) string {
	s := strings.TrimSpace(name)
	s = reSeparators.ReplaceAllString(s, " ")
	s = reNonAlnum.ReplaceAllString(s, "_")
	return strings.ToLower(strings.Trim(s, "_"))
}

// NormalizeHeaders snake-cases every header and suffixes repeats with _1,
// _2, ... so that names stay unique.
func NormalizeHeaders(headers []string) []string {
	seen := make(map[string]int, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		name := SnakeCase(h)
		n, dup := seen[name]
		if dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}
