// Package retrieval provides a federated content-retrieval runtime
// that executes search, fetch, crawl, and post operations across
// pluggable provider adapters spanning four sources — web, community,
// social, and shopping.
//
// A Runtime owns a provider registry, a concurrency gate, an adaptive
// concurrency controller, and an anti-bot cooldown engine. Callers
// register adapters, then invoke one of Search, Fetch, Crawl, or Post;
// each call is routed through a tier router, admitted through the
// concurrency gate, dispatched under a per-operation deadline, swept
// by the prompt-injection guard and realism detector, and finally
// aggregated into an AggregateResult-shaped envelope (see package
// aggregate) that reports success, partial success, or failure with
// structured per-provider diagnostics.
package retrieval
