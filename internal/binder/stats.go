package binder

import "github.com/roach88/paramgraph/internal/resolve"

// KindStats counts outcomes for one request kind.
type KindStats struct {
	Success int
	Failure int
}

// Stats summarises the registry after a refresh pass. Counts are recomputed
// from target states each pass, so repeated passes never double-count.
type Stats struct {
	Pass      int       // pass number
	Processed int       // targets resolved in this pass
	Pending   int       // targets still waiting for a snapshot
	Path      KindStats // dotted-path references
	Pair      KindStats // category/key references
	Fallback  int       // rendered targets served by the fallback table
	Warnings  int       // rendered targets with a directive warning
}

func (b *Binder) computeStatsLocked(pass, processed int) Stats {
	s := Stats{Pass: pass, Processed: processed}
	for _, t := range b.targets {
		kind := &s.Path
		if t.Request.Kind() == resolve.KindPair {
			kind = &s.Pair
		}
		switch t.state {
		case StateRendered:
			kind.Success++
			if t.outcome.FromFallback() {
				s.Fallback++
			}
			if t.warning != nil {
				s.Warnings++
			}
		case StateError:
			kind.Failure++
		default:
			s.Pending++
		}
	}
	return s
}
