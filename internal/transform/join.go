package transform

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"songplays_etl/internal/model"
)

// Songplay ids are shard<<idShift + a per-shard counter, so shards never need
// to coordinate. Ids are unique within a run but neither dense nor stable
// across runs.
const (
	idShift   = 33
	maxShards = 1 << 20
	maxSeq    = 1 << idShift
)

// SongplayID builds the id of the seq-th fact emitted by a shard.
func SongplayID(shard int, seq int64) int64 {
	return int64(shard)<<idShift | seq
}

// JoinResult holds the fact rows and the diagnostics of one join.
type JoinResult struct {
	Rows []model.SongplayFact
	// Matched counts events that found at least one catalog entry.
	Matched int
	// Unresolved counts events that found none. They are dropped, not
	// reported as errors.
	Unresolved int
}

// Joiner builds the songplays fact table with an inner hash join.
type Joiner struct {
	Matcher Matcher
}

func NewJoiner(m Matcher) *Joiner {
	if m == nil {
		m = ExactMatch{}
	}
	return &Joiner{Matcher: m}
}

type shardResult struct {
	rows       []model.SongplayFact
	matched    int
	unresolved int
}

// Join emits one fact per (event, catalog entry) pair accepted by the matcher.
// The catalog index is built once and only read by the probing goroutines.
func (j *Joiner) Join(ctx context.Context, cfg Config, events []TimedEvent, catalog []CatalogEntry) (JoinResult, error) {
	m := j.Matcher
	if m == nil {
		m = ExactMatch{}
	}

	index := make(map[MatchKey][]CatalogEntry, len(catalog))
	for _, c := range catalog {
		k := m.CatalogKey(c)
		index[k] = append(index[k], c)
	}

	spans := split(len(events), min(cfg.workers(), maxShards))
	for _, s := range spans {
		if s.hi-s.lo >= maxSeq {
			return JoinResult{}, fmt.Errorf("join shard of %d events exceeds the id space", s.hi-s.lo)
		}
	}
	parts := make([]shardResult, len(spans))

	g, gctx := errgroup.WithContext(ctx)
	for shard, s := range spans {
		shard, s := shard, s
		g.Go(func() error {
			var res shardResult
			var seq int64
			for i := s.lo; i < s.hi; i++ {
				if i%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				ev := events[i]
				found := false
				for _, c := range index[m.EventKey(ev.EventRecord)] {
					if !m.Match(ev.EventRecord, c) {
						continue
					}
					found = true
					res.rows = append(res.rows, factRow(SongplayID(shard, seq), ev, c))
					seq++
				}
				if found {
					res.matched++
				} else {
					res.unresolved++
				}
			}
			parts[shard] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return JoinResult{}, err
	}

	var out JoinResult
	for _, p := range parts {
		out.Rows = append(out.Rows, p.rows...)
		out.Matched += p.matched
		out.Unresolved += p.unresolved
	}
	if out.Rows == nil {
		out.Rows = []model.SongplayFact{}
	}
	return out, nil
}

func factRow(id int64, ev TimedEvent, c CatalogEntry) model.SongplayFact {
	return model.SongplayFact{
		SongplayID: id,
		StartTime:  FormatStartTime(ev.Timestamp),
		UserID:     ev.UserID,
		Level:      ev.Level,
		SongID:     c.SongID,
		ArtistID:   c.ArtistID,
		SessionID:  ev.SessionID,
		Location:   ev.Location,
		UserAgent:  ev.UserAgent,
		Year:       int32(ev.Timestamp.Year()),
		Month:      int32(ev.Timestamp.Month()),
	}
}
