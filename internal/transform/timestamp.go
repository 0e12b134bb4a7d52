package transform

import (
	"fmt"
	"time"

	"songplays_etl/internal/model"
)

// DeriveTimestamp converts epoch milliseconds into civil time in loc.
func DeriveTimestamp(ts int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ts).In(loc)
}

// FormatStartTime renders t with the pattern "HH:MM:ss". MM is the two digit
// calendar month, not the minute of the hour.
func FormatStartTime(t time.Time) string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), int(t.Month()), t.Second())
}

// ISOWeekday numbers Monday 1 through Sunday 7.
func ISOWeekday(t time.Time) int32 {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int32(t.Weekday())
}

// TimeRow decomposes a derived timestamp into a time dimension row.
func TimeRow(t time.Time) model.TimeDim {
	_, week := t.ISOWeek()
	return model.TimeDim{
		StartTime: FormatStartTime(t),
		Hour:      int32(t.Hour()),
		Day:       int32(t.Day()),
		Week:      int32(week),
		Month:     int32(t.Month()),
		Year:      int32(t.Year()),
		Weekday:   ISOWeekday(t),
	}
}
