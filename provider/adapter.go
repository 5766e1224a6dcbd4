// Package provider defines the provider adapter contract and the
// registry that holds adapters, health, and per-provider circuit
// breaker state.
package provider

import (
	"context"

	"github.com/coreframe/retrieval-runtime/config"
	"github.com/coreframe/retrieval-runtime/record"
)

// Operation aliases config.Operation for readability inside this
// package's call sites.
type Operation = config.Operation

// SearchInput is the input for the search operation.
type SearchInput struct {
	Query   string
	Limit   int
	Filters map[string]interface{}
}

// FetchInput is the input for the fetch operation.
type FetchInput struct {
	URL     string
	Filters map[string]interface{}
}

// CrawlStrategy selects the crawl traversal order.
type CrawlStrategy string

const (
	CrawlBFS CrawlStrategy = "bfs"
	CrawlDFS CrawlStrategy = "dfs"
)

// CrawlInput is the input for the crawl operation.
type CrawlInput struct {
	SeedURLs    []string
	Strategy    CrawlStrategy
	MaxDepth    int
	MaxPages    int
	MaxPerDomain int
	Filters     map[string]interface{}
}

// PostInput is the input for the post operation.
type PostInput struct {
	Target        string
	Content       string
	MediaURLs     []string
	Confirm       bool
	RiskAccepted  bool
	Metadata      map[string]interface{}
}

// CookiePolicy controls whether an adapter may use stored session
// cookies for a call.
type CookiePolicy string

const (
	CookiePolicyOff      CookiePolicy = "off"
	CookiePolicyAuto     CookiePolicy = "auto"
	CookiePolicyRequired CookiePolicy = "required"
)

// InvocationContext is passed to every adapter operation entry point.
// Adapters must respect Ctx's cancellation at every I/O suspension
// point.
type InvocationContext struct {
	Ctx                 context.Context
	Trace               record.Trace
	TimeoutMs           int
	Attempt             int
	UseCookies          bool
	CookiePolicyOverride CookiePolicy
	BrowserFallback     BrowserFallbackPort
}

// Capability describes per-operation metadata an adapter declares for
// listing purposes.
type Capability struct {
	Supported bool
	Notes     string
}

// Capabilities is the per-adapter capability descriptor keyed by
// operation.
type Capabilities map[Operation]Capability

// HealthProbe is an optional adapter-supplied health check.
type HealthProbe func(ctx context.Context) error

// Adapter is the provider adapter contract. Each of
// the four operation methods returns (nil, rterrors with CodeNotSupported)
// when the adapter does not implement that operation; the registry
// never calls a method the adapter's Capabilities() marks unsupported.
type Adapter interface {
	ID() string
	Source() record.Source
	Capabilities() Capabilities

	Search(ictx InvocationContext, in SearchInput) ([]*record.Record, error)
	Fetch(ictx InvocationContext, in FetchInput) ([]*record.Record, error)
	Crawl(ictx InvocationContext, in CrawlInput) ([]*record.Record, error)
	Post(ictx InvocationContext, in PostInput) ([]*record.Record, error)

	// HealthProbe returns nil when the adapter implements no health
	// check of its own.
	HealthProbe() HealthProbe
}

// BrowserFallbackPort is the collaborator interface the runtime
// injects into InvocationContext so adapters can request escalation
// into a headed browser or extension mode.
type BrowserFallbackPort interface {
	Resolve(ctx context.Context, req BrowserFallbackRequest) (BrowserFallbackResult, error)
}

// BrowserFallbackRequest is the escalation request payload.
type BrowserFallbackRequest struct {
	Provider             string
	Source               record.Source
	Operation            Operation
	ReasonCode           string
	Trace                record.Trace
	URL                  string
	Details              map[string]interface{}
	PreferredModes       []string
	UseCookies           bool
	CookiePolicyOverride CookiePolicy
}

// BrowserFallbackResult is the escalation outcome.
type BrowserFallbackResult struct {
	OK         bool
	ReasonCode string
	Mode       string
	Output     map[string]interface{}
	Details    map[string]interface{}
}

// NoOpBrowserFallbackPort always reports that escalation is
// unavailable, so a Runtime can be built without wiring one.
type NoOpBrowserFallbackPort struct{}

func (NoOpBrowserFallbackPort) Resolve(ctx context.Context, req BrowserFallbackRequest) (BrowserFallbackResult, error) {
	return BrowserFallbackResult{OK: false, ReasonCode: "unavailable"}, nil
}
