// Package promptguard sanitizes provider-returned record text against
// a fixed ordered set of prompt-injection patterns, emitting an audit
// entry for every match.
package promptguard

import (
	"regexp"
	"strings"

	"github.com/coreframe/retrieval-runtime/record"
)

// Severity classifies a rule's handling.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Action is the text transformation a matched rule applies.
type Action string

const (
	ActionQuarantine Action = "quarantine"
	ActionStrip      Action = "strip"
)

// rule is one entry in the fixed ordered pattern set.
type rule struct {
	id       string
	pattern  *regexp.Regexp
	severity Severity
	action   Action
}

// rules is the closed, ordered pattern set. High-severity rules
// quarantine; medium-severity rules strip.
var rules = []rule{
	{
		id:       "ignore_previous_instructions",
		pattern:  regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
		severity: SeverityHigh,
		action:   ActionQuarantine,
	},
	{
		id:       "reveal_system_prompt",
		pattern:  regexp.MustCompile(`(?i)(reveal|show|print|output)\s+(the\s+)?system\s+prompt`),
		severity: SeverityHigh,
		action:   ActionQuarantine,
	},
	{
		id:       "prompt_injection_marker",
		pattern:  regexp.MustCompile(`(?i)\[\s*(system|assistant)\s*\]|###\s*(system|instruction)`),
		severity: SeverityHigh,
		action:   ActionQuarantine,
	},
	{
		id:       "credential_exfiltration",
		pattern:  regexp.MustCompile(`(?i)(send|email|post|upload)\s+(your|the)\s+(api[\s-]?key|password|token|credentials)`),
		severity: SeverityHigh,
		action:   ActionQuarantine,
	},
	{
		id:       "tool_abuse_directive",
		pattern:  regexp.MustCompile(`(?i)call\s+the\s+\w+\s+tool\s+with|invoke\s+function\s+\w+\s*\(`),
		severity: SeverityMedium,
		action:   ActionStrip,
	},
	{
		id:       "reveal_hidden_data",
		pattern:  regexp.MustCompile(`(?i)(decode|reveal)\s+the\s+hidden\s+(data|payload|message)`),
		severity: SeverityMedium,
		action:   ActionStrip,
	},
}

// AuditEntry is one rule match against one record field.
type AuditEntry struct {
	RecordID  string   `json:"recordId"`
	Provider  string   `json:"provider"`
	Field     string   `json:"field"`
	PatternID string   `json:"patternId"`
	Severity  Severity `json:"severity"`
	Action    Action   `json:"action"`
	Excerpt   string   `json:"excerpt"`
}

// Result is the guard's output over a batch of records.
type Result struct {
	Entries             []AuditEntry
	QuarantinedSegments int
}

var whitespaceRun = regexp.MustCompile(`\s{2,}`)

const excerptLimit = 120

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > excerptLimit {
		return s[:excerptLimit]
	}
	return s
}

// sweepField applies every rule to text in order, returning the
// sanitized text and the audit entries it produced.
func sweepField(text, recordID, provider, field string) (string, []AuditEntry) {
	if text == "" {
		return text, nil
	}
	var entries []AuditEntry
	for _, r := range rules {
		matches := r.pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			entries = append(entries, AuditEntry{
				RecordID:  recordID,
				Provider:  provider,
				Field:     field,
				PatternID: r.id,
				Severity:  r.severity,
				Action:    r.action,
				Excerpt:   excerpt(text[m[0]:m[1]]),
			})
		}
		replacement := "[quarantined:" + r.id + "]"
		if r.action == ActionStrip {
			replacement = strings.Repeat(" ", 1)
		}
		text = r.pattern.ReplaceAllString(text, replacement)
	}
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), entries
}

// SanitizeText runs the rule sweep over a standalone string, returning
// the sanitized text and the ids of every matched pattern. Used by the
// blocker classifier to scrub title/message evidence before it is
// embedded in a signal.
func SanitizeText(text string) (string, []string) {
	if text == "" {
		return text, nil
	}
	var matched []string
	for _, r := range rules {
		if !r.pattern.MatchString(text) {
			continue
		}
		matched = append(matched, r.id)
		replacement := "[quarantined:" + r.id + "]"
		if r.action == ActionStrip {
			replacement = " "
		}
		text = r.pattern.ReplaceAllString(text, replacement)
	}
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), matched
}

// Apply sanitizes title and content across every record in place,
// attaches attributes.security to each, and returns the batch audit
// result. When enabled is false, records pass through unmodified but
// still receive attributes.security with promptGuardEnabled=false.
func Apply(records []*record.Record, enabled bool) Result {
	var result Result
	for _, rec := range records {
		var entries []AuditEntry
		quarantined := 0
		if enabled {
			var titleEntries, contentEntries []AuditEntry
			rec.Title, titleEntries = sweepField(rec.Title, rec.ID, rec.ProviderID, "title")
			rec.Content, contentEntries = sweepField(rec.Content, rec.ID, rec.ProviderID, "content")
			entries = append(entries, titleEntries...)
			entries = append(entries, contentEntries...)
			for _, e := range entries {
				if e.Action == ActionQuarantine {
					quarantined++
				}
			}
		}
		result.Entries = append(result.Entries, entries...)
		result.QuarantinedSegments += quarantined

		rec.SetAttribute("security", map[string]interface{}{
			"untrustedContent":    true,
			"dataOnlyContext":     true,
			"promptGuardEnabled":  enabled,
			"quarantinedSegments": quarantined,
			"guardEntries":        entries,
		})
	}
	return result
}
