/*
Package cache implements the layered caching engine behind TrackForge's
metadata lookups.

Every layer satisfies the same contract (types.Cache), so wrappers stack in
any order and callers always see a single cache:

	┌─────────────────────────────────────────────┐
	│              Application                    │
	│        (metadata lookups, warmers)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          Metrics (instrumentation)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Circuit Breaker (resilience)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          Eviction (capacity + TTL)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Compression (gzip/zstd/brotli)       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Sharded Memory / File Stores         │
	└─────────────────────────────────────────────┘

# Layers

MemoryStore is the base level: a sharded in-memory map with per-shard
read-write locks and expire-on-read semantics.

EvictingCache tracks entry metadata (creation, last access, access count,
priority) and enforces a capacity bound through a pluggable policy. LRU and
priority-aware policies ship in the box.

CompressingCache transparently compresses stored payloads above a size
threshold and keeps the compressed form only when it is actually smaller.
Each payload carries a marker identifying its algorithm, so mixed-algorithm
backends read back cleanly.

WarmingCache pre-populates a backend. Items declare a tier, retries, a
timeout, and dependencies on other items; strategies execute them
sequentially, with a bounded pool, or tier by tier. Background runs return
a cancellable task handle.

Coordinator arranges caches into an L1/L2 hierarchy plus specialized
registered tiers, promotes lower-level hits upward, routes writes by key
prefix, and cascades invalidations across related key families.

# Usage

Assembling the standard chain:

	cfg := config.NewDefault()
	chain, err := cache.BuildChain(cfg, nil, nil, logger)
	if err != nil {
		log.Fatal(err)
	}

	err = chain.Set(ctx, "album:radiohead|ok computer", types.StringValue("1997"), 0)
	value, ok, err := chain.Get(ctx, "album:radiohead|ok computer")

Warming critical keys before traffic arrives:

	warming := cache.WarmingCacheFactory{Logger: logger}.Standard(chain, cfg.Warming)
	snap, err := warming.Warm(ctx, items, nil)

Stats from any layer merge the whole stack beneath it, outer layers
winning on key collisions.
*/
package cache
