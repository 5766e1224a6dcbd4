// Command retrieval-runtime is a thin demonstration CLI: it wires two
// in-memory web adapters into a Runtime and runs a single search,
// printing the aggregate result as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	retrieval "github.com/coreframe/retrieval-runtime"
	"github.com/coreframe/retrieval-runtime/config"
	"github.com/coreframe/retrieval-runtime/provider"
	"github.com/coreframe/retrieval-runtime/record"
	"github.com/coreframe/retrieval-runtime/rterrors"
	"github.com/coreframe/retrieval-runtime/rtlog"
	"github.com/coreframe/retrieval-runtime/telemetry"
)

// demoAdapter is a minimal in-memory Adapter supporting only search,
// returning a single fixed record per call.
type demoAdapter struct {
	id     string
	url    string
	title  string
	delay  time.Duration
	failOn int
	calls  int
}

func (d *demoAdapter) ID() string            { return d.id }
func (d *demoAdapter) Source() record.Source { return record.SourceWeb }

func (d *demoAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		config.OpSearch: {Supported: true},
	}
}

func (d *demoAdapter) Search(ictx provider.InvocationContext, in provider.SearchInput) ([]*record.Record, error) {
	d.calls++
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ictx.Ctx.Done():
			return nil, ictx.Ctx.Err()
		}
	}
	rec := record.New(d.id, record.SourceWeb, d.url, d.title, "demo content for query: "+in.Query, 0.8, nil)
	return []*record.Record{rec}, nil
}

func (d *demoAdapter) Fetch(provider.InvocationContext, provider.FetchInput) ([]*record.Record, error) {
	return nil, rterrors.New(rterrors.CodeNotSupported, "fetch not supported", rterrors.WithProvider(d.id))
}
func (d *demoAdapter) Crawl(provider.InvocationContext, provider.CrawlInput) ([]*record.Record, error) {
	return nil, rterrors.New(rterrors.CodeNotSupported, "crawl not supported", rterrors.WithProvider(d.id))
}
func (d *demoAdapter) Post(provider.InvocationContext, provider.PostInput) ([]*record.Record, error) {
	return nil, rterrors.New(rterrors.CodeNotSupported, "post not supported", rterrors.WithProvider(d.id))
}
func (d *demoAdapter) HealthProbe() provider.HealthProbe { return nil }

func main() {
	logger := rtlog.New("cmd/retrieval-runtime")
	opts := []retrieval.Option{retrieval.WithLogger(logger)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		tel, err := telemetry.NewOTelProvider("retrieval-runtime", endpoint)
		if err != nil {
			logger.Warn("telemetry disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer func() { _ = tel.Shutdown(context.Background()) }()
			opts = append(opts, retrieval.WithTelemetry(tel))
		}
	}

	rt := retrieval.New(config.Default(), opts...)

	rt.Register(&demoAdapter{id: "web/a", url: "https://example.com/one", title: "Example One"})
	rt.Register(&demoAdapter{id: "web/b", url: "https://example.com/two", title: "Example Two"})

	result := rt.Search(ctx, provider.SearchInput{Query: "hello", Limit: 10}, retrieval.Options{
		Source: config.SelectionAuto,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(1)
	}
}
