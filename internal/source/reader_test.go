package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songplays_etl/internal/model"
	"songplays_etl/internal/storage/storagetest"
)

const songJSON = `{"num_songs": 1, "artist_id": "ARJIE2Y1187B994AB7", "artist_latitude": null, "artist_longitude": null, "artist_location": "", "artist_name": "Line Renaud", "song_id": "SOUPIRU12A6D4FA1E1", "title": "Der Kleine Dompfaff", "duration": 152.92036, "year": 0}`

const logJSON = `{"artist":null,"auth":"Logged In","firstName":"Walter","gender":"M","itemInSession":0,"lastName":"Frye","length":null,"level":"free","location":"San Francisco-Oakland-Hayward, CA","method":"GET","page":"Home","registration":1540919166796.0,"sessionId":38,"song":null,"status":200,"ts":1541105830796,"userAgent":"Mozilla\/5.0","userId":"39"}
{"artist":"Des'ree","auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":1,"lastName":"Summers","length":246.30812,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"PUT","page":"NextSong","registration":1540344794796.0,"sessionId":139,"song":"You Gotta Be","status":200,"ts":1541106106796,"userAgent":"Mozilla\/5.0","userId":"8"}
`

func newReader(t *testing.T, remote Store) *Reader {
	t.Helper()
	logger, _ := test.NewNullLogger()
	var remoteFn func() (Store, error)
	if remote != nil {
		remoteFn = func() (Store, error) { return remote, nil }
	}
	return NewReader(LocalStore{}, remoteFn, 3, logger)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestDecode(t *testing.T) {
	t.Run("line delimited events", func(t *testing.T) {
		events, err := Decode[model.EventRecord](strings.NewReader(logJSON), "log.json")

		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "Home", events[0].Page)
		assert.Equal(t, "", events[0].Song, "null song decodes as empty")
		assert.Nil(t, events[0].Length)
		assert.Equal(t, "8", events[1].UserID)
		assert.Equal(t, int64(139), events[1].SessionID)
		assert.Equal(t, int64(1541106106796), events[1].Ts)
		require.NotNil(t, events[1].Length)
		assert.Equal(t, 246.30812, *events[1].Length)
	})

	t.Run("catalog record with null coordinates", func(t *testing.T) {
		songs, err := Decode[model.CatalogRecord](strings.NewReader(songJSON), "song.json")

		require.NoError(t, err)
		require.Len(t, songs, 1)
		assert.Equal(t, "SOUPIRU12A6D4FA1E1", songs[0].SongID)
		assert.Equal(t, int32(0), songs[0].Year)
		assert.Nil(t, songs[0].ArtistLatitude)
	})

	t.Run("wrong type is a malformed record", func(t *testing.T) {
		in := `{"song_id":"S1","title":"T","artist_id":"A1"}` + "\n" + `{"song_id":"S2","title":"T","artist_id":"A1","year":"1999"}`

		_, err := Decode[model.CatalogRecord](strings.NewReader(in), "songs.json")

		var mre *model.MalformedRecordError
		require.True(t, errors.As(err, &mre))
		assert.Equal(t, "songs.json", mre.Source)
		assert.Equal(t, 1, mre.Index)
		assert.Equal(t, "year", mre.Field)
		assert.ErrorIs(t, err, model.ErrMalformedRecord)
	})

	t.Run("truncated JSON is a malformed record", func(t *testing.T) {
		_, err := Decode[model.CatalogRecord](strings.NewReader(`{"song_id": "S1"`), "songs.json")

		assert.ErrorIs(t, err, model.ErrMalformedRecord)
	})

	t.Run("empty stream", func(t *testing.T) {
		events, err := Decode[model.EventRecord](strings.NewReader(""), "empty.json")

		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestReaderLocal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "song_data", "A", "A", "A", "TRAAAAW128F429D538.json"), songJSON)
	writeFile(t, filepath.Join(dir, "song_data", "A", "B", "C", "TRABCEI128F424C983.json"), strings.Replace(songJSON, "SOUPIRU12A6D4FA1E1", "SOOTHER", 1))
	writeFile(t, filepath.Join(dir, "song_data", "README.txt"), "not json")
	writeFile(t, filepath.Join(dir, "log_data", "2018-11-01-events.json"), logJSON)

	t.Run("glob", func(t *testing.T) {
		songs, err := newReader(t, nil).ReadCatalog(ctx, filepath.Join(dir, "song_data", "*", "*", "*", "*.json"))

		require.NoError(t, err)
		require.Len(t, songs, 2)
		assert.Equal(t, "SOUPIRU12A6D4FA1E1", songs[0].SongID)
		assert.Equal(t, "SOOTHER", songs[1].SongID)
	})

	t.Run("directory is searched recursively for json", func(t *testing.T) {
		songs, err := newReader(t, nil).ReadCatalog(ctx, filepath.Join(dir, "song_data"))

		require.NoError(t, err)
		assert.Len(t, songs, 2)
	})

	t.Run("single file", func(t *testing.T) {
		events, err := newReader(t, nil).ReadEvents(ctx, filepath.Join(dir, "log_data", "2018-11-01-events.json"))

		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("nothing matches", func(t *testing.T) {
		_, err := newReader(t, nil).ReadEvents(ctx, filepath.Join(dir, "nope", "*.json"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no input files")
	})

	t.Run("remote location without a remote store", func(t *testing.T) {
		_, err := newReader(t, nil).ReadEvents(ctx, "s3://bucket/log_data")

		assert.Error(t, err)
	})
}

func TestReaderS3(t *testing.T) {
	ctx := context.Background()
	fake := storagetest.NewS3()
	fake.Put("udacity-dend", "song_data/A/A/A/TRAAAAW128F429D538.json", []byte(songJSON))
	fake.Put("udacity-dend", "song_data/A/B/C/TRABCEI128F424C983.json", []byte(strings.Replace(songJSON, "SOUPIRU12A6D4FA1E1", "SOOTHER", 1)))
	fake.Put("udacity-dend", "song_data/A/B/extra.json", []byte(songJSON))
	fake.Put("udacity-dend", "song_data/manifest.txt", []byte("x"))
	fake.Put("udacity-dend", "log_data/2018/11/2018-11-01-events.json", []byte(logJSON))
	reader := newReader(t, NewS3Store(fake))

	t.Run("glob matches per path segment", func(t *testing.T) {
		songs, err := reader.ReadCatalog(ctx, "s3a://udacity-dend/song_data/*/*/*/*.json")

		require.NoError(t, err)
		require.Len(t, songs, 2)
		assert.Equal(t, "SOUPIRU12A6D4FA1E1", songs[0].SongID)
	})

	t.Run("prefix reads every json object", func(t *testing.T) {
		songs, err := reader.ReadCatalog(ctx, "s3://udacity-dend/song_data")

		require.NoError(t, err)
		assert.Len(t, songs, 3)
	})

	t.Run("events", func(t *testing.T) {
		events, err := reader.ReadEvents(ctx, "s3://udacity-dend/log_data/*/*/*.json")

		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}
