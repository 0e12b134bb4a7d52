package model

// CatalogRecord is one song entry of the music catalog feed.
type CatalogRecord struct {
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	ArtistID        string   `json:"artist_id"`
	Year            int32    `json:"year"` // 0 when unknown
	Duration        float64  `json:"duration"`
	ArtistName      string   `json:"artist_name"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	NumSongs        int      `json:"num_songs"`
}

// EventRecord is one line of the user activity log.
type EventRecord struct {
	Artist        string   `json:"artist"`
	Auth          string   `json:"auth"`
	FirstName     string   `json:"firstName"`
	Gender        string   `json:"gender"`
	ItemInSession int      `json:"itemInSession"`
	LastName      string   `json:"lastName"`
	Length        *float64 `json:"length"`
	Level         string   `json:"level"`
	Location      string   `json:"location"`
	Method        string   `json:"method"`
	Page          string   `json:"page"`
	Registration  *float64 `json:"registration"`
	SessionID     int64    `json:"sessionId"`
	Song          string   `json:"song"`
	Status        int      `json:"status"`
	Ts            int64    `json:"ts"` // epoch milliseconds
	UserAgent     string   `json:"userAgent"`
	UserID        string   `json:"userId"`
}

// PageNextSong marks an event that represents a song play.
const PageNextSong = "NextSong"

// Allowed values of EventRecord.Level and EventRecord.Gender. An empty gender
// means unknown.
const (
	LevelFree = "free"
	LevelPaid = "paid"

	GenderMale    = "M"
	GenderFemale  = "F"
	GenderUnknown = ""
)
