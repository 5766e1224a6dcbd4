// Package blocker implements the structured failure classifier: an
// ordered, first-match-wins set of rules turning a raw failure signal
// into a typed blocker signal with evidence and action hints.
package blocker

import (
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/coreframe/retrieval-runtime/promptguard"
)

// Type is the closed set of blocker classifications.
type Type string

const (
	TypeAuthRequired     Type = "auth_required"
	TypeAntiBotChallenge Type = "anti_bot_challenge"
	TypeRateLimited      Type = "rate_limited"
	TypeUpstreamBlock    Type = "upstream_block"
	TypeRestrictedTarget Type = "restricted_target"
	TypeEnvLimited       Type = "env_limited"
	TypeUnknown          Type = "unknown"
)

// Source identifies where the signal that triggered classification
// originated.
type Source string

const (
	SourceNavigation     Source = "navigation"
	SourceNetwork        Source = "network"
	SourceConsole        Source = "console"
	SourceRuntimeFetch   Source = "runtime_fetch"
	SourceMacroExecution Source = "macro_execution"
)

// ActionHint is a ranked remediation suggestion.
type ActionHint struct {
	Action   string `json:"action"`
	Priority int    `json:"priority"`
}

// Evidence carries the observed facts that produced a classification.
type Evidence struct {
	URL               string   `json:"url,omitempty"`
	FinalURL          string   `json:"finalUrl,omitempty"`
	Title             string   `json:"title,omitempty"`
	Status            int      `json:"status,omitempty"`
	ProviderErrorCode string   `json:"providerErrorCode,omitempty"`
	MatchedPatternIDs []string `json:"matchedPatternIds,omitempty"`
	ObservedHosts     []string `json:"observedHosts,omitempty"`
	TraceID           string   `json:"traceId,omitempty"`
}

// Sanitation records what the prompt-guard preprocessing scrubbed out
// of the title/message before they were embedded as evidence.
type Sanitation struct {
	SanitizedFields   []string `json:"sanitizedFields"`
	MatchedPatternIDs []string `json:"matchedPatternIds"`
}

// Signal is the emitted blocker classification.
type Signal struct {
	Type        Type         `json:"type"`
	Source      Source       `json:"source"`
	ReasonCode  string       `json:"reasonCode,omitempty"`
	Confidence  float64      `json:"confidence"`
	Retryable   bool         `json:"retryable"`
	DetectedAt  time.Time    `json:"detectedAt"`
	Evidence    Evidence     `json:"evidence"`
	ActionHints []ActionHint `json:"actionHints"`
	Sanitation  *Sanitation  `json:"sanitation,omitempty"`
}

// Input bundles every signal the classifier consults.
type Input struct {
	Source              Source
	URL                 string
	FinalURL             string
	Title               string
	Status              int
	ProviderErrorCode   string
	Message             string
	Hosts               []string
	TraceID             string
	RetryableHint       bool
	EnvLimitedHint      bool
	RestrictedTargetHint bool
	PromptGuardEnabled  bool
	ConfidenceThreshold float64
	DetectedAt          time.Time
}

var authURLPattern = regexp.MustCompile(`(?i)/(login|signin|sign-in|auth|oauth/authorize)(/|$|\?)`)
var authTitlePattern = regexp.MustCompile(`(?i)\b(log\s?in|sign\s?in|authentication required)\b`)

var challengeTextPattern = regexp.MustCompile(`(?i)\b(challenge|captcha|verify|interstitial|cf_chl|bot|prove your humanity)\b`)
var challengeURLPattern = regexp.MustCompile(`(?i)[?&](cf_chl|challenge|captcha)=`)
var challengeHostPattern = regexp.MustCompile(`(?i)(recaptcha|hcaptcha|cloudflare).*(challenge)?`)

var staticBlockedHostPattern = regexp.MustCompile(`(?i)\b(blocklist|blocked|denylist)\.`)
var upstreamFailureMessage = regexp.MustCompile(`(?i)retrieval failed`)

var restrictedURLPattern = regexp.MustCompile(`(?i)^(chrome://|chrome-extension://|about:blank|devtools://)`)

var envLimitedMessage = regexp.MustCompile(`(?i)(environment|sandbox|headless).*(not available|unsupported|unavailable)`)

// actionHintTable maps a type to its ranked remediation hints.
var actionHintTable = map[Type][]ActionHint{
	TypeAuthRequired: {
		{Action: "manual_login", Priority: 1},
		{Action: "switch_managed_headed", Priority: 2},
		{Action: "switch_extension_mode", Priority: 3},
	},
	TypeAntiBotChallenge: {
		{Action: "switch_managed_headed", Priority: 1},
		{Action: "rotate_proxy", Priority: 2},
		{Action: "collect_debug_trace", Priority: 3},
	},
	TypeRateLimited: {
		{Action: "retry_after_backoff", Priority: 1},
		{Action: "collect_debug_trace", Priority: 2},
	},
	TypeUpstreamBlock: {
		{Action: "retry_after_backoff", Priority: 1},
		{Action: "rotate_proxy", Priority: 2},
		{Action: "collect_debug_trace", Priority: 3},
	},
	TypeRestrictedTarget: {
		{Action: "abandon_target", Priority: 1},
	},
	TypeEnvLimited: {
		{Action: "switch_managed_headed", Priority: 1},
		{Action: "collect_debug_trace", Priority: 2},
	},
	TypeUnknown: {
		{Action: "collect_debug_trace", Priority: 1},
	},
}

func isLoopbackHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func normalizeHosts(hosts []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hosts {
		lh := strings.ToLower(h)
		if lh == "" || seen[lh] {
			continue
		}
		seen[lh] = true
		out = append(out, lh)
		if len(out) == 20 {
			break
		}
	}
	sort.Strings(out)
	return out
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Classify applies the ordered classification rules and returns the
// first matching Signal with true when its confidence clears the
// threshold; below the threshold it returns a zero Signal and false.
func Classify(in Input) (Signal, bool) {
	threshold := in.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	threshold = clampConfidence(threshold)

	var sanitation *Sanitation
	if in.PromptGuardEnabled {
		var sanitizedFields, patternIDs []string
		if clean, matched := promptguard.SanitizeText(in.Title); len(matched) > 0 {
			in.Title = clean
			sanitizedFields = append(sanitizedFields, "title")
			patternIDs = append(patternIDs, matched...)
		}
		if clean, matched := promptguard.SanitizeText(in.Message); len(matched) > 0 {
			in.Message = clean
			sanitizedFields = append(sanitizedFields, "message")
			patternIDs = append(patternIDs, matched...)
		}
		if len(sanitizedFields) > 0 {
			sanitation = &Sanitation{SanitizedFields: sanitizedFields, MatchedPatternIDs: patternIDs}
		}
	}

	hosts := normalizeHosts(in.Hosts)
	evidence := Evidence{
		URL:               in.URL,
		FinalURL:          in.FinalURL,
		Title:             in.Title,
		Status:            in.Status,
		ProviderErrorCode: in.ProviderErrorCode,
		ObservedHosts:     hosts,
		TraceID:           in.TraceID,
	}
	detectedAt := in.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	if sig, ok := classifyAuthRequired(in, evidence, detectedAt); ok {
		return finalize(sig, threshold, sanitation)
	}
	if sig, ok := classifyAntiBotChallenge(in, evidence, detectedAt, hosts); ok {
		return finalize(sig, threshold, sanitation)
	}
	if sig, ok := classifyRateLimited(in, evidence, detectedAt); ok {
		return finalize(sig, threshold, sanitation)
	}
	if sig, ok := classifyUpstreamBlock(in, evidence, detectedAt); ok {
		return finalize(sig, threshold, sanitation)
	}
	if sig, ok := classifyRestrictedTarget(in, evidence, detectedAt); ok {
		return finalize(sig, threshold, sanitation)
	}
	if sig, ok := classifyEnvLimited(in, evidence, detectedAt); ok {
		return finalize(sig, threshold, sanitation)
	}
	if sig, ok := classifyUnknown(in, evidence, detectedAt); ok {
		return finalize(sig, threshold, sanitation)
	}
	return Signal{}, false
}

func finalize(sig Signal, threshold float64, sanitation *Sanitation) (Signal, bool) {
	sig.Confidence = clampConfidence(sig.Confidence)
	if sig.Confidence < threshold {
		return Signal{}, false
	}
	sig.ActionHints = actionHintTable[sig.Type]
	sig.Sanitation = sanitation
	return sig, true
}

func classifyAuthRequired(in Input, ev Evidence, at time.Time) (Signal, bool) {
	confidence := 0.0
	var matched []string
	if in.Status == 401 || in.Status == 403 {
		confidence = maxf(confidence, 0.95)
		matched = append(matched, "auth_status")
	}
	if in.ProviderErrorCode == "auth" {
		confidence = maxf(confidence, 0.97)
		matched = append(matched, "auth_code")
	}
	if authURLPattern.MatchString(in.URL) || authURLPattern.MatchString(in.FinalURL) {
		confidence = maxf(confidence, 0.9)
		matched = append(matched, "auth_url")
	}
	if authTitlePattern.MatchString(in.Title) {
		confidence = maxf(confidence, 0.9)
		matched = append(matched, "auth_title")
	}
	if confidence == 0 {
		return Signal{}, false
	}
	confidence = clampFloat(confidence, 0.9, 0.97)
	ev.MatchedPatternIDs = matched
	return Signal{
		Type: TypeAuthRequired, Source: in.Source, ReasonCode: "token_required",
		Confidence: confidence, Retryable: false, DetectedAt: at, Evidence: ev,
	}, true
}

func classifyAntiBotChallenge(in Input, ev Evidence, at time.Time, hosts []string) (Signal, bool) {
	if isLoopbackHost(in.URL) || isLoopbackHost(in.FinalURL) {
		return Signal{}, false
	}
	confidence := 0.0
	var matched []string
	text := in.Title + " " + in.Message
	if challengeTextPattern.MatchString(text) {
		confidence = maxf(confidence, 0.9)
		matched = append(matched, "challenge_text")
	}
	if challengeURLPattern.MatchString(in.URL) {
		confidence = maxf(confidence, 0.92)
		matched = append(matched, "challenge_url")
	}
	if in.Status == 200 && challengeTextPattern.MatchString(in.Title) {
		confidence = maxf(confidence, 0.88)
		matched = append(matched, "challenge_status_title")
	}
	for _, h := range hosts {
		if challengeHostPattern.MatchString(h) {
			confidence = maxf(confidence, 0.96)
			matched = append(matched, "challenge_host")
			break
		}
	}
	if confidence == 0 {
		return Signal{}, false
	}
	confidence = clampFloat(confidence, 0.88, 0.96)
	ev.MatchedPatternIDs = matched
	return Signal{
		Type: TypeAntiBotChallenge, Source: in.Source, ReasonCode: "challenge_detected",
		Confidence: confidence, Retryable: false, DetectedAt: at, Evidence: ev,
	}, true
}

func classifyRateLimited(in Input, ev Evidence, at time.Time) (Signal, bool) {
	if in.Status != 429 && in.ProviderErrorCode != "rate_limited" {
		return Signal{}, false
	}
	ev.MatchedPatternIDs = []string{"rate_limit_status_or_code"}
	return Signal{
		Type: TypeRateLimited, Source: in.Source, ReasonCode: "rate_limited",
		Confidence: 0.95, Retryable: true, DetectedAt: at, Evidence: ev,
	}, true
}

func classifyUpstreamBlock(in Input, ev Evidence, at time.Time) (Signal, bool) {
	codeMatch := in.ProviderErrorCode == "upstream" || in.ProviderErrorCode == "network" || in.ProviderErrorCode == "unavailable"
	if !codeMatch {
		return Signal{}, false
	}
	staticHost := false
	for _, h := range in.Hosts {
		if staticBlockedHostPattern.MatchString(h) {
			staticHost = true
			break
		}
	}
	messageMatch := upstreamFailureMessage.MatchString(in.Message)
	statusMatch := in.Status >= 500
	if !staticHost && !messageMatch && !statusMatch {
		return Signal{}, false
	}
	confidence := 0.8
	if staticHost {
		confidence = 0.9
	}
	retryable := true
	if !in.RetryableHint && in.Status == 0 {
		retryable = in.RetryableHint
	}
	ev.MatchedPatternIDs = []string{"upstream_block"}
	return Signal{
		Type: TypeUpstreamBlock, Source: in.Source, ReasonCode: "ip_blocked",
		Confidence: confidence, Retryable: retryable, DetectedAt: at, Evidence: ev,
	}, true
}

func classifyRestrictedTarget(in Input, ev Evidence, at time.Time) (Signal, bool) {
	if !restrictedURLPattern.MatchString(in.URL) && !restrictedURLPattern.MatchString(in.FinalURL) && !in.RestrictedTargetHint {
		return Signal{}, false
	}
	ev.MatchedPatternIDs = []string{"restricted_target"}
	return Signal{
		Type: TypeRestrictedTarget, Source: in.Source, ReasonCode: "",
		Confidence: 0.92, Retryable: false, DetectedAt: at, Evidence: ev,
	}, true
}

func classifyEnvLimited(in Input, ev Evidence, at time.Time) (Signal, bool) {
	if in.EnvLimitedHint {
		ev.MatchedPatternIDs = []string{"env_limited_hint"}
		return Signal{
			Type: TypeEnvLimited, Source: in.Source, ReasonCode: "env_limited",
			Confidence: 0.9, Retryable: in.RetryableHint, DetectedAt: at, Evidence: ev,
		}, true
	}
	if in.ProviderErrorCode == "unavailable" && envLimitedMessage.MatchString(in.Message) {
		ev.MatchedPatternIDs = []string{"env_limited_message"}
		return Signal{
			Type: TypeEnvLimited, Source: in.Source, ReasonCode: "env_limited",
			Confidence: 0.78, Retryable: in.RetryableHint, DetectedAt: at, Evidence: ev,
		}, true
	}
	return Signal{}, false
}

func classifyUnknown(in Input, ev Evidence, at time.Time) (Signal, bool) {
	if in.Status == 0 && in.ProviderErrorCode == "" && in.Title == "" && in.Message == "" && len(in.Hosts) == 0 {
		return Signal{}, false
	}
	ev.MatchedPatternIDs = []string{"unknown_fallback"}
	return Signal{
		Type: TypeUnknown, Source: in.Source, ReasonCode: "",
		Confidence: 0.5, Retryable: in.RetryableHint, DetectedAt: at, Evidence: ev,
	}, true
}

func maxf(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
