package executor

import "strings"

// CandidateDomains derives the ordered candidate domains for a business
// name: the name lower-cased with spaces and hyphens stripped, tried
// against the configured TLD order. Names that sanitize to nothing yield
// no candidates.
func CandidateDomains(name string, tlds []string) []string {
	sanitized := strings.ToLower(name)
	sanitized = strings.ReplaceAll(sanitized, " ", "")
	sanitized = strings.ReplaceAll(sanitized, "-", "")
	if sanitized == "" {
		return nil
	}
	out := make([]string, 0, len(tlds))
	for _, tld := range tlds {
		out = append(out, sanitized+"."+strings.TrimPrefix(tld, "."))
	}
	return out
}
