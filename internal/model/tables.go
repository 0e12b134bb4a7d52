package model

// Output table rows. The parquet tags name the columns; partition columns are
// looked up by these names when a table is written.

type SongDim struct {
	SongID   string  `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title    string  `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistID string  `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year     int32   `parquet:"name=year, type=INT32"`
	Duration float64 `parquet:"name=duration, type=DOUBLE"`
}

type ArtistDim struct {
	Name      string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Location  string   `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	Latitude  *float64 `parquet:"name=latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Longitude *float64 `parquet:"name=longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// ArtistKey is the comparable form of an ArtistDim. Null coordinates compare
// equal to each other and unequal to any value.
type ArtistKey struct {
	Name, Location            string
	Latitude, Longitude       float64
	HasLatitude, HasLongitude bool
}

func (a ArtistDim) Key() ArtistKey {
	k := ArtistKey{Name: a.Name, Location: a.Location}
	if a.Latitude != nil {
		k.Latitude, k.HasLatitude = *a.Latitude, true
	}
	if a.Longitude != nil {
		k.Longitude, k.HasLongitude = *a.Longitude, true
	}
	return k
}

type UserDim struct {
	UserID    string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	FirstName string `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName  string `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gender    string `parquet:"name=gender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level     string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type TimeDim struct {
	StartTime string `parquet:"name=start_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hour      int32  `parquet:"name=hour, type=INT32"`
	Day       int32  `parquet:"name=day, type=INT32"`
	Week      int32  `parquet:"name=week, type=INT32"`
	Month     int32  `parquet:"name=month, type=INT32"`
	Year      int32  `parquet:"name=year, type=INT32"`
	Weekday   int32  `parquet:"name=weekday, type=INT32"`
}

type SongplayFact struct {
	SongplayID int64  `parquet:"name=songplay_id, type=INT64"`
	StartTime  string `parquet:"name=start_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserID     string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level      string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8"`
	SongID     string `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistID   string `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SessionID  int64  `parquet:"name=session_id, type=INT64"`
	Location   string `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserAgent  string `parquet:"name=user_agent, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year       int32  `parquet:"name=year, type=INT32"`
	Month      int32  `parquet:"name=month, type=INT32"`
}
