package transform

import (
	"fmt"
	"strings"

	"songplays_etl/internal/model"
)

// MatchKey is the hash key shared by an event and the catalog entries it may
// match.
type MatchKey struct {
	Title  string
	Artist string
}

// Matcher decides which catalog entries an event refers to. Events and entries
// with equal keys are candidates; Match confirms a candidate pair.
type Matcher interface {
	CatalogKey(c CatalogEntry) MatchKey
	EventKey(ev model.EventRecord) MatchKey
	Match(ev model.EventRecord, c CatalogEntry) bool
}

// ExactMatch pairs events and entries whose song title and artist name are
// byte-for-byte equal.
type ExactMatch struct{}

func (ExactMatch) CatalogKey(c CatalogEntry) MatchKey {
	return MatchKey{Title: c.Title, Artist: c.ArtistName}
}

func (ExactMatch) EventKey(ev model.EventRecord) MatchKey {
	return MatchKey{Title: ev.Song, Artist: ev.Artist}
}

func (ExactMatch) Match(ev model.EventRecord, c CatalogEntry) bool {
	return ev.Song == c.Title && ev.Artist == c.ArtistName
}

// FoldedMatch ignores case and surrounding whitespace.
type FoldedMatch struct{}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (FoldedMatch) CatalogKey(c CatalogEntry) MatchKey {
	return MatchKey{Title: fold(c.Title), Artist: fold(c.ArtistName)}
}

func (FoldedMatch) EventKey(ev model.EventRecord) MatchKey {
	return MatchKey{Title: fold(ev.Song), Artist: fold(ev.Artist)}
}

// Match compares the folded keys, so it accepts exactly the pairs the index
// groups together.
func (FoldedMatch) Match(ev model.EventRecord, c CatalogEntry) bool {
	return fold(ev.Song) == fold(c.Title) && fold(ev.Artist) == fold(c.ArtistName)
}

// MatcherByName resolves the configured match strategy.
func MatcherByName(name string) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exact":
		return ExactMatch{}, nil
	case "folded":
		return FoldedMatch{}, nil
	default:
		return nil, fmt.Errorf("unknown match strategy %q", name)
	}
}
