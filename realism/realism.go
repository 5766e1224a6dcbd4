// Package realism flags provider records that look like placeholder
// or echoed-input output rather than genuine retrieved content.
package realism

import (
	"regexp"
	"strings"

	"github.com/coreframe/retrieval-runtime/record"
)

var localHostPattern = regexp.MustCompile(`(?i)://[^/]*\.(placeholder|synthetic|example)\.local`)
var placeholderTokenPattern = regexp.MustCompile(`(?i)\b(todo|placeholder|lorem ipsum)\b`)

// Detect scans one record's (url, title, content) against the fixed
// pattern set and returns the matched pattern codes. seedURLs and
// query are compared against title/content for echo detection.
func Detect(rec *record.Record, seedURLs []string, query string) []string {
	var matched []string
	seen := make(map[string]bool)
	add := func(code string) {
		if !seen[code] {
			seen[code] = true
			matched = append(matched, code)
		}
	}

	if localHostPattern.MatchString(rec.URL) {
		add("placeholder_local_url")
	}

	combined := rec.Title + " " + rec.Content
	if placeholderTokenPattern.MatchString(combined) {
		add("placeholder_token")
	}

	for _, echoed := range echoCandidates(seedURLs, query) {
		if echoed == "" {
			continue
		}
		quoted := `"` + echoed + `"`
		if strings.Contains(rec.Title, quoted) || strings.Contains(rec.Content, quoted) {
			add("echo_input")
			break
		}
	}

	return matched
}

func echoCandidates(seedURLs []string, query string) []string {
	out := append([]string(nil), seedURLs...)
	if query != "" {
		out = append(out, query)
	}
	return out
}

// DetectBatch runs Detect over every record and returns the union of
// matched pattern codes, the form diagnostics.realism's
// matchedPatternCodes field expects.
func DetectBatch(records []*record.Record, seedURLs []string, query string) []string {
	seen := make(map[string]bool)
	var all []string
	for _, rec := range records {
		for _, code := range Detect(rec, seedURLs, query) {
			if !seen[code] {
				seen[code] = true
				all = append(all, code)
			}
		}
	}
	return all
}
