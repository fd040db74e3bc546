package logging

import (
	"context"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// maxTrackedCommunities bounds the distinct communities remembered per
// source.
const maxTrackedCommunities = 16

// RejectAggregator counts requests refused by the access control per
// manager address and periodically logs the top offenders, so a scan
// produces one report instead of a log line per datagram.
type RejectAggregator struct {
	mu      sync.Mutex
	sources map[netip.Addr]*rejectEntry

	flushInterval time.Duration
	topN          int
	logFn         func(e RejectEntry) // where to send reports
}

type rejectEntry struct {
	requests    uint64
	communities map[string]struct{}
	last        time.Time
}

// RejectEntry is a single top-N entry returned by Flush.
type RejectEntry struct {
	Addr        netip.Addr
	Requests    uint64
	Communities int // distinct community strings tried, at most 16
	Last        time.Time
}

// NewRejectAggregator creates a new aggregator.
// flushInterval controls how often reports are emitted (default 5min).
// topN controls how many sources are reported (default 10).
func NewRejectAggregator(flushInterval time.Duration, topN int) *RejectAggregator {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}
	if topN <= 0 {
		topN = 10
	}
	return &RejectAggregator{
		sources:       make(map[netip.Addr]*rejectEntry),
		flushInterval: flushInterval,
		topN:          topN,
	}
}

// SetLogFunc replaces the default slog report.
func (ra *RejectAggregator) SetLogFunc(fn func(e RejectEntry)) {
	ra.mu.Lock()
	ra.logFn = fn
	ra.mu.Unlock()
}

// Rejected records one refused request.
func (ra *RejectAggregator) Rejected(source netip.AddrPort, community string) {
	addr := source.Addr().Unmap()

	ra.mu.Lock()
	defer ra.mu.Unlock()

	e, ok := ra.sources[addr]
	if !ok {
		e = &rejectEntry{communities: make(map[string]struct{})}
		ra.sources[addr] = e
	}
	e.requests++
	e.last = time.Now()
	if len(e.communities) < maxTrackedCommunities {
		e.communities[community] = struct{}{}
	}
}

// Flush returns the top-N sources by request count, then resets counters.
func (ra *RejectAggregator) Flush() []RejectEntry {
	ra.mu.Lock()
	sources := ra.sources
	ra.sources = make(map[netip.Addr]*rejectEntry)
	ra.mu.Unlock()

	if len(sources) == 0 {
		return nil
	}
	entries := make([]RejectEntry, 0, len(sources))
	for addr, e := range sources {
		entries = append(entries, RejectEntry{
			Addr:        addr,
			Requests:    e.requests,
			Communities: len(e.communities),
			Last:        e.last,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Requests != entries[j].Requests {
			return entries[i].Requests > entries[j].Requests
		}
		return entries[i].Addr.Less(entries[j].Addr)
	})
	if len(entries) > ra.topN {
		entries = entries[:ra.topN]
	}
	return entries
}

// Run starts the periodic flush loop. Blocks until ctx is cancelled.
func (ra *RejectAggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(ra.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ra.flushAndLog()
			return nil
		case <-ticker.C:
			ra.flushAndLog()
		}
	}
}

func (ra *RejectAggregator) flushAndLog() {
	top := ra.Flush()

	ra.mu.Lock()
	logFn := ra.logFn
	ra.mu.Unlock()

	for _, e := range top {
		if logFn != nil {
			logFn(e)
			continue
		}
		slog.Warn("SNMP requests rejected",
			"source", e.Addr, "requests", e.Requests,
			"communities", e.Communities, "last", e.Last.Format(time.RFC3339))
	}
}
