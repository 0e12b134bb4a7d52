package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songplays_etl/internal/model"
	"songplays_etl/internal/sink"
	"songplays_etl/internal/source"
	"songplays_etl/internal/transform"
)

type fakeSource struct {
	catalog []model.CatalogRecord
	events  []model.EventRecord
	err     error
}

func (f *fakeSource) ReadCatalog(context.Context, string) ([]model.CatalogRecord, error) {
	return f.catalog, f.err
}

func (f *fakeSource) ReadEvents(context.Context, string) ([]model.EventRecord, error) {
	return f.events, nil
}

type writeCall struct {
	base      string
	table     string
	partition []string
	rows      any
}

type fakeWriter struct {
	calls  []writeCall
	failOn string
	err    error
}

func (f *fakeWriter) WriteTable(_ context.Context, rows any, basePath, tableName string, partitionColumns []string) (sink.WriteResult, error) {
	if tableName == f.failOn {
		return sink.WriteResult{}, &sink.SinkWriteError{Table: tableName, Path: basePath, Cause: f.err}
	}
	f.calls = append(f.calls, writeCall{base: basePath, table: tableName, partition: partitionColumns, rows: rows})
	n := 0
	switch r := rows.(type) {
	case []model.SongDim:
		n = len(r)
	case []model.ArtistDim:
		n = len(r)
	case []model.UserDim:
		n = len(r)
	case []model.TimeDim:
		n = len(r)
	case []model.SongplayFact:
		n = len(r)
	}
	return sink.WriteResult{Table: tableName, Path: basePath + "/" + tableName, Rows: n, Files: []string{"part-00000.parquet", sink.SuccessMarker}}, nil
}

func (f *fakeWriter) call(t *testing.T, table string) writeCall {
	t.Helper()
	for _, c := range f.calls {
		if c.table == table {
			return c
		}
	}
	t.Fatalf("table %s was not written", table)
	return writeCall{}
}

const ts = int64(1541121934796)

func catalogFixture() []model.CatalogRecord {
	rec := model.CatalogRecord{
		SongID: "SOZCTXZ12AB0182364", Title: "Setanta matins", ArtistID: "AR5KOSW1187FB35FF4",
		ArtistName: "Elena", ArtistLocation: "Dubai UAE", Duration: 269.58404,
	}
	return []model.CatalogRecord{rec, rec}
}

func play(user, song, artist string) model.EventRecord {
	return model.EventRecord{
		Page: model.PageNextSong, UserID: user, FirstName: "Kaylee", LastName: "Summers",
		Gender: model.GenderFemale, Level: model.LevelFree, Ts: ts, Song: song, Artist: artist,
		SessionID: 139, Location: "Phoenix-Mesa-Scottsdale, AZ", UserAgent: "Mozilla/5.0",
	}
}

func eventsFixture() []model.EventRecord {
	return []model.EventRecord{
		{Page: "Home", UserID: "39", FirstName: "Walter", Gender: model.GenderMale, Level: model.LevelFree, Ts: ts},
		play("8", "Setanta matins", "Elena"),
		play("8", "You Gotta Be", "Des'ree"),
	}
}

func newPipeline(src RecordSource, w sink.Writer) (*Pipeline, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return New(src, w, transform.Config{Workers: 2, Location: time.UTC}, nil, logger), hook
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("end to end", func(t *testing.T) {
		w := &fakeWriter{}
		p, hook := newPipeline(&fakeSource{catalog: catalogFixture(), events: eventsFixture()}, w)

		stats, err := p.Run(ctx, Paths{SongData: "in/song_data", LogData: "in/log_data", Output: "out"})

		require.NoError(t, err)
		require.Len(t, w.calls, 5)

		songs := w.call(t, SongsTable)
		assert.Equal(t, filepath.Join("out", "songs"), songs.base)
		assert.Equal(t, []string{"year", "artist_id"}, songs.partition)
		assert.Len(t, songs.rows, 1)

		assert.Empty(t, w.call(t, ArtistsTable).partition)
		assert.Equal(t, []string{"gender"}, w.call(t, UsersTable).partition)
		assert.Equal(t, []string{"year", "month"}, w.call(t, TimeTable).partition)

		facts := w.call(t, SongplaysTable)
		assert.Equal(t, filepath.Join("out", "songplays"), facts.base)
		assert.Equal(t, []string{"year", "month"}, facts.partition)
		rows := facts.rows.([]model.SongplayFact)
		require.Len(t, rows, 1)
		assert.Equal(t, "SOZCTXZ12AB0182364", rows[0].SongID)
		assert.Equal(t, "AR5KOSW1187FB35FF4", rows[0].ArtistID)
		assert.Equal(t, "01:11:34", rows[0].StartTime)
		assert.Equal(t, int32(2018), rows[0].Year)
		assert.Equal(t, int32(11), rows[0].Month)

		assert.Equal(t, 2, stats.CatalogRecords)
		assert.Equal(t, 3, stats.EventRecords)
		assert.Equal(t, 2, stats.SongPlayEvents)
		assert.Equal(t, 1, stats.MatchedEvents)
		assert.Equal(t, 1, stats.UnresolvedEvents)
		assert.Equal(t, 1, stats.Tables[SongplaysTable].Rows)
		assert.Equal(t, 1, stats.Tables[SongsTable].Files)
		assert.NotEmpty(t, stats.TotalExecutionTime)

		var warned bool
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel {
				warned = true
				assert.Equal(t, 1, e.Data["unresolved"])
			}
		}
		assert.True(t, warned, "unresolved plays are logged")
	})

	t.Run("non song plays never reach the log tables", func(t *testing.T) {
		w := &fakeWriter{}
		p, _ := newPipeline(&fakeSource{catalog: catalogFixture(), events: eventsFixture()}, w)

		_, err := p.Run(ctx, Paths{SongData: "s", LogData: "l", Output: "out"})

		require.NoError(t, err)
		users := w.call(t, UsersTable).rows.([]model.UserDim)
		require.Len(t, users, 1)
		assert.Equal(t, "8", users[0].UserID)
		assert.Len(t, w.call(t, TimeTable).rows, 2)
		for _, f := range w.call(t, SongplaysTable).rows.([]model.SongplayFact) {
			assert.NotEqual(t, "39", f.UserID)
		}
	})

	t.Run("no song plays still writes every table", func(t *testing.T) {
		w := &fakeWriter{}
		p, _ := newPipeline(&fakeSource{catalog: catalogFixture(), events: eventsFixture()[:1]}, w)

		stats, err := p.Run(ctx, Paths{SongData: "s", LogData: "l", Output: "out"})

		require.NoError(t, err)
		require.Len(t, w.calls, 5)
		facts, ok := w.call(t, SongplaysTable).rows.([]model.SongplayFact)
		require.True(t, ok)
		assert.NotNil(t, facts)
		assert.Empty(t, facts)
		assert.IsType(t, []model.TimeDim{}, w.call(t, TimeTable).rows)
		assert.Zero(t, stats.SongPlayEvents)
	})

	t.Run("malformed song play fails the run", func(t *testing.T) {
		events := append(eventsFixture(), play("", "Intro", "Elena"))
		w := &fakeWriter{}
		p, _ := newPipeline(&fakeSource{catalog: catalogFixture(), events: events}, w)

		stats, err := p.Run(ctx, Paths{SongData: "s", LogData: "l", Output: "out"})

		assert.ErrorIs(t, err, model.ErrMalformedRecord)
		require.NotNil(t, stats)
		assert.NotEmpty(t, stats.Error)
		for _, c := range w.calls {
			assert.NotEqual(t, SongplaysTable, c.table)
		}
	})

	t.Run("read failure", func(t *testing.T) {
		boom := errors.New("no such bucket")
		w := &fakeWriter{}
		p, _ := newPipeline(&fakeSource{err: boom}, w)

		_, err := p.Run(ctx, Paths{SongData: "s3://missing/song_data", LogData: "l", Output: "out"})

		assert.ErrorIs(t, err, boom)
		assert.Empty(t, w.calls)
	})

	t.Run("sink failure stops later tables", func(t *testing.T) {
		boom := errors.New("access denied")
		w := &fakeWriter{failOn: UsersTable, err: boom}
		p, _ := newPipeline(&fakeSource{catalog: catalogFixture(), events: eventsFixture()}, w)

		_, err := p.Run(ctx, Paths{SongData: "s", LogData: "l", Output: "s3://lake/out"})

		assert.ErrorIs(t, err, sink.ErrSinkWrite)
		assert.ErrorIs(t, err, boom)
		require.Len(t, w.calls, 2)
		assert.Equal(t, "s3://lake/out/songs", w.calls[0].base)
	})
}

func TestStatsWriteFile(t *testing.T) {
	stats := newStats()
	stats.addTable(sink.WriteResult{Table: UsersTable, Path: "out/users/users_table", Rows: 3, Partitions: 2, Files: []string{"a", "b", sink.SuccessMarker}})
	stats.finish(nil)
	path := filepath.Join(t.TempDir(), "etl_stats.json")

	require.NoError(t, stats.WriteFile(path))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Contains(t, decoded, "total_execution_time")
	assert.NotContains(t, decoded, "error")
	tables := decoded["tables"].(map[string]any)
	assert.Equal(t, float64(2), tables[UsersTable].(map[string]any)["files"])
}

func writeJSON(t *testing.T, path string, lines ...any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, l := range lines {
		require.NoError(t, enc.Encode(l))
	}
}

func TestRunLocalFiles(t *testing.T) {
	root := t.TempDir()
	cat := catalogFixture()
	writeJSON(t, filepath.Join(root, "song_data", "A", "A", "B", "TRAABJL12903CDCF1A.json"), cat[0])
	writeJSON(t, filepath.Join(root, "song_data", "A", "A", "C", "TRAACCG128F92E8A55.json"), cat[1])
	ev := eventsFixture()
	writeJSON(t, filepath.Join(root, "log_data", "2018-11-02-events.json"), ev[0], ev[1], ev[2])

	logger, _ := test.NewNullLogger()
	w, err := sink.NewParquetSink(sink.LocalBackend{}, nil, sink.Options{Workers: 2}, logger)
	require.NoError(t, err)
	src := source.NewReader(source.LocalStore{}, nil, 2, logger)
	p := New(src, w, transform.Config{Workers: 2, Location: time.UTC}, nil, logger)
	out := filepath.Join(root, "out")

	stats, err := p.Run(context.Background(), Paths{
		SongData: filepath.Join(root, "song_data"),
		LogData:  filepath.Join(root, "log_data"),
		Output:   out,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tables[SongsTable].Rows)
	assert.DirExists(t, filepath.Join(out, "songs", SongsTable, "year=0", "artist_id=AR5KOSW1187FB35FF4"))
	assert.FileExists(t, filepath.Join(out, "artists", ArtistsTable, sink.SuccessMarker))
	assert.DirExists(t, filepath.Join(out, "users", UsersTable, "gender=F"))
	assert.DirExists(t, filepath.Join(out, "time", TimeTable, "year=2018", "month=11"))
	assert.DirExists(t, filepath.Join(out, "songplays", SongplaysTable, "year=2018", "month=11"))
}
