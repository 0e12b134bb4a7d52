// Package transform turns catalog and activity records into the songs, artists,
// users, time and songplays tables.
//
// Every function is pure: inputs are never modified and each call returns new
// slices. Work that benefits from it is split into contiguous shards and run on
// cfg.Workers goroutines; results are merged in shard order, so output order is
// the order of first occurrence in the input regardless of the worker count.
package transform

import (
	"time"
)

// Config is passed explicitly into every transformation.
type Config struct {
	// Workers bounds the number of shards processed concurrently. Values
	// below one mean one.
	Workers int
	// Location is the session time zone used to decompose event timestamps.
	// Nil means UTC.
	Location *time.Location
}

func (c Config) workers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
