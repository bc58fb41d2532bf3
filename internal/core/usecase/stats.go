package usecase

import (
	"sync"
	"sync/atomic"

	"github.com/kirillkom/retrieval-core/internal/core/ports"
)

const (
	methodDense  = "dense"
	methodSparse = "sparse"
	methodFuzzy  = "fuzzy"
	methodExact  = "exact"
)

type methodCounters struct {
	results  atomic.Int64
	empty    atomic.Int64
	errors   atomic.Int64
	timeouts atomic.Int64
}

// StatsRecorder aggregates operational counters shared by the search and
// routing-cache paths. Degraded methods and cache misses are not errors;
// this is where they become visible.
type StatsRecorder struct {
	searches atomic.Int64
	methods  map[string]*methodCounters

	fusedMu    sync.Mutex
	fusedSum   float64
	fusedCount int64

	exactHits    atomic.Int64
	semanticHits atomic.Int64
	misses       atomic.Int64
}

func NewStatsRecorder() *StatsRecorder {
	return &StatsRecorder{
		methods: map[string]*methodCounters{
			methodDense:  {},
			methodSparse: {},
			methodFuzzy:  {},
			methodExact:  {},
		},
	}
}

func (s *StatsRecorder) recordSearch() {
	s.searches.Add(1)
}

func (s *StatsRecorder) recordMethod(method string, resultCount int, err error, timedOut bool) {
	counters, ok := s.methods[method]
	if !ok {
		return
	}
	switch {
	case timedOut:
		counters.timeouts.Add(1)
	case err != nil:
		counters.errors.Add(1)
	case resultCount == 0:
		counters.empty.Add(1)
	default:
		counters.results.Add(int64(resultCount))
	}
}

func (s *StatsRecorder) recordFused(scores []float64) {
	if len(scores) == 0 {
		return
	}
	s.fusedMu.Lock()
	for _, score := range scores {
		s.fusedSum += score
	}
	s.fusedCount += int64(len(scores))
	s.fusedMu.Unlock()
}

func (s *StatsRecorder) recordCacheHit(exact bool) {
	if exact {
		s.exactHits.Add(1)
		return
	}
	s.semanticHits.Add(1)
}

func (s *StatsRecorder) recordCacheMiss() {
	s.misses.Add(1)
}

func (s *StatsRecorder) Stats() ports.Stats {
	out := ports.Stats{
		Searches: s.searches.Load(),
		Methods:  make(map[string]ports.MethodStats, len(s.methods)),

		CacheExactHits:    s.exactHits.Load(),
		CacheSemanticHits: s.semanticHits.Load(),
		CacheMisses:       s.misses.Load(),
	}
	for name, counters := range s.methods {
		out.Methods[name] = ports.MethodStats{
			Results:  counters.results.Load(),
			Empty:    counters.empty.Load(),
			Errors:   counters.errors.Load(),
			Timeouts: counters.timeouts.Load(),
		}
	}

	s.fusedMu.Lock()
	if s.fusedCount > 0 {
		out.MeanFusedScore = s.fusedSum / float64(s.fusedCount)
	}
	s.fusedMu.Unlock()

	hits := out.CacheExactHits + out.CacheSemanticHits
	if total := hits + out.CacheMisses; total > 0 {
		out.CacheHitRate = float64(hits) / float64(total)
	}
	return out
}
