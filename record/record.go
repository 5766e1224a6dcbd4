// Package record defines the canonical normalized record emitted by
// every provider adapter, and the trace context correlation envelope
// carried through an invocation.
package record

import (
	"crypto/sha256"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Source is one of the four provider source categories.
type Source string

const (
	SourceWeb       Source = "web"
	SourceCommunity Source = "community"
	SourceSocial    Source = "social"
	SourceShopping  Source = "shopping"
)

// Record is the canonical unit of provider output.
type Record struct {
	ID         string                 `json:"id"`
	Source     Source                 `json:"source"`
	ProviderID string                 `json:"providerId"`
	URL        string                 `json:"url,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Content    string                 `json:"content,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Confidence float64                `json:"confidence"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// New builds a Record, clamping confidence into [0,1] (default 0.5)
// and always deriving its stable id; callers cannot supply one.
func New(providerID string, source Source, url, title, content string, confidence float64, attrs map[string]interface{}) *Record {
	r := &Record{
		Source:     source,
		ProviderID: providerID,
		URL:        url,
		Title:      title,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Confidence: clampConfidence(confidence),
		Attributes: attrs,
	}
	r.ID = DeriveID(providerID, source, url, title, content, attrs)
	return r
}

func clampConfidence(c float64) float64 {
	if c == 0 {
		return 0.5
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// DeriveID computes a deterministic id for (provider, source, url,
// title, content, attributes): two records with identical inputs
// always yield identical ids across runs. The digest feeds a
// namespaced uuid so the id is reproducible rather than random.
func DeriveID(providerID string, source Source, url, title, content string, attrs map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(providerID))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write(canonicalAttrs(attrs))
	sum := h.Sum(nil)
	return uuid.NewSHA1(uuid.NameSpaceOID, sum).String()
}

// canonicalAttrs produces a deterministic byte encoding of an
// arbitrary JSON-shaped attribute map by sorting keys before encoding.
func canonicalAttrs(attrs map[string]interface{}) []byte {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, attrs[k])
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return nil
	}
	return b
}

// SetAttribute sets a top-level attribute, creating the map if needed.
func (r *Record) SetAttribute(key string, value interface{}) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]interface{})
	}
	r.Attributes[key] = value
}
