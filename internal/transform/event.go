package transform

import (
	"context"
	"fmt"
	"time"

	"songplays_etl/internal/model"
)

// TimedEvent is a song play carrying its derived timestamp.
type TimedEvent struct {
	model.EventRecord
	Timestamp time.Time
}

// FilterSongPlays keeps only NextSong events. Everything derived from the log
// is computed from its result.
func FilterSongPlays(records []model.EventRecord) []model.EventRecord {
	out := make([]model.EventRecord, 0, len(records))
	for _, r := range records {
		if r.Page == model.PageNextSong {
			out = append(out, r)
		}
	}
	return out
}

// ValidateSongPlay checks the fields a NextSong event must carry.
func ValidateSongPlay(i int, r model.EventRecord) error {
	malformed := func(field, reason string) error {
		return &model.MalformedRecordError{Index: i, Field: field, Reason: reason}
	}
	switch {
	case r.Page != model.PageNextSong:
		return malformed("page", fmt.Sprintf("is %q, want %q", r.Page, model.PageNextSong))
	case r.UserID == "":
		return malformed("userId", "is missing")
	case r.Ts <= 0:
		return malformed("ts", "is missing")
	case r.Song == "":
		return malformed("song", "is missing")
	case r.Artist == "":
		return malformed("artist", "is missing")
	}
	switch r.Level {
	case model.LevelFree, model.LevelPaid:
	default:
		return malformed("level", fmt.Sprintf("has unknown value %q", r.Level))
	}
	switch r.Gender {
	case model.GenderMale, model.GenderFemale, model.GenderUnknown:
	default:
		return malformed("gender", fmt.Sprintf("has unknown value %q", r.Gender))
	}
	return nil
}

// ExtractUsers projects the users dimension from filtered events, one row per
// distinct tuple. A user whose level changed keeps one row per level.
func ExtractUsers(ctx context.Context, cfg Config, filtered []model.EventRecord) ([]model.UserDim, error) {
	rows := make([]model.UserDim, len(filtered))
	for i, r := range filtered {
		if err := ValidateSongPlay(i, r); err != nil {
			return nil, err
		}
		rows[i] = model.UserDim{
			UserID:    r.UserID,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Gender:    r.Gender,
			Level:     r.Level,
		}
	}
	return distinct(ctx, cfg.workers(), rows, identity[model.UserDim])
}

// TimestampEvents attaches the derived timestamp to every filtered event.
func TimestampEvents(ctx context.Context, cfg Config, filtered []model.EventRecord) ([]TimedEvent, error) {
	loc := cfg.location()
	out := make([]TimedEvent, len(filtered))
	for i, r := range filtered {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := ValidateSongPlay(i, r); err != nil {
			return nil, err
		}
		out[i] = TimedEvent{EventRecord: r, Timestamp: DeriveTimestamp(r.Ts, loc)}
	}
	return out, nil
}

// ExtractTime returns one time row per filtered event. Rows are not
// deduplicated.
func ExtractTime(ctx context.Context, cfg Config, filtered []model.EventRecord) ([]model.TimeDim, error) {
	events, err := TimestampEvents(ctx, cfg, filtered)
	if err != nil {
		return nil, err
	}
	return TimeRows(events), nil
}

// TimeRows is ExtractTime for events that already carry their timestamp.
func TimeRows(events []TimedEvent) []model.TimeDim {
	out := make([]model.TimeDim, len(events))
	for i, ev := range events {
		out[i] = TimeRow(ev.Timestamp)
	}
	return out
}
