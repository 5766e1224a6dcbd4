package retrieval

import (
	"net/url"
	"strings"

	"github.com/coreframe/retrieval-runtime/config"
)

// scopeKeyFor derives the concurrency gate's scope key for one
// operation call. Invalid URLs fall back to providerID
// in every branch.
func scopeKeyFor(op config.Operation, providerID, target string) string {
	switch op {
	case config.OpFetch, config.OpCrawl:
		if host := hostOf(target); host != "" {
			return host
		}
		return providerID
	case config.OpSearch:
		if host := hostOf(target); host != "" {
			return host
		}
		return providerID
	default:
		return providerID
	}
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
