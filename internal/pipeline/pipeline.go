// Package pipeline runs the two processing stages: the song catalog feeds the
// songs and artists tables, the activity log feeds users, time and songplays.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"songplays_etl/internal/model"
	"songplays_etl/internal/sink"
	"songplays_etl/internal/storage"
	"songplays_etl/internal/transform"
)

// Output tables, each stored under <output>/<dir>/<name>.
const (
	SongsTable     = "songs_table"
	ArtistsTable   = "artists_table"
	UsersTable     = "users_table"
	TimeTable      = "time_table"
	SongplaysTable = "songplays_table"
)

// RecordSource is satisfied by source.Reader.
type RecordSource interface {
	ReadCatalog(ctx context.Context, location string) ([]model.CatalogRecord, error)
	ReadEvents(ctx context.Context, location string) ([]model.EventRecord, error)
}

// Paths are the locations of one run.
type Paths struct {
	SongData string
	LogData  string
	Output   string
}

type Pipeline struct {
	source RecordSource
	sink   sink.Writer
	cfg    transform.Config
	joiner *transform.Joiner
	logger logrus.FieldLogger
}

func New(src RecordSource, w sink.Writer, cfg transform.Config, joiner *transform.Joiner, logger logrus.FieldLogger) *Pipeline {
	if joiner == nil {
		joiner = transform.NewJoiner(nil)
	}
	return &Pipeline{source: src, sink: w, cfg: cfg, joiner: joiner, logger: logger}
}

// Run processes the catalog, then the log. The returned stats are never nil
// and describe whatever was done before a failure.
func (p *Pipeline) Run(ctx context.Context, paths Paths) (*Stats, error) {
	stats := newStats()
	p.logger.WithFields(logrus.Fields{
		"song_data": paths.SongData,
		"log_data":  paths.LogData,
		"output":    paths.Output,
		"workers":   p.cfg.Workers,
	}).Info("Starting ETL pipeline")

	catalog, err := p.ProcessSongData(ctx, paths.SongData, paths.Output, stats)
	if err == nil {
		err = p.ProcessLogData(ctx, paths.LogData, paths.Output, catalog, stats)
	}
	stats.finish(err)
	if err != nil {
		return stats, err
	}

	p.logger.WithFields(logrus.Fields{
		"elapsed":    stats.TotalExecutionTime,
		"songplays":  stats.Tables[SongplaysTable].Rows,
		"unresolved": stats.UnresolvedEvents,
	}).Info("ETL pipeline completed")
	return stats, nil
}

// ProcessSongData writes the songs and artists tables and returns the catalog
// projection the songplays join runs against.
func (p *Pipeline) ProcessSongData(ctx context.Context, songData, output string, stats *Stats) ([]transform.CatalogEntry, error) {
	if stats == nil {
		stats = newStats()
	}
	records, err := p.source.ReadCatalog(ctx, songData)
	if err != nil {
		return nil, fmt.Errorf("failed to read song data: %w", err)
	}
	stats.CatalogRecords = len(records)
	p.logger.WithField("records", len(records)).Info("Song data read")

	songs, err := transform.ExtractSongs(ctx, p.cfg, records)
	if err != nil {
		return nil, err
	}
	if err := write(ctx, p.sink, stats, songs, output, "songs", SongsTable, "year", "artist_id"); err != nil {
		return nil, err
	}

	artists, err := transform.ExtractArtists(ctx, p.cfg, records)
	if err != nil {
		return nil, err
	}
	if err := write(ctx, p.sink, stats, artists, output, "artists", ArtistsTable); err != nil {
		return nil, err
	}

	return transform.ProjectCatalog(ctx, p.cfg, records)
}

// ProcessLogData writes the users, time and songplays tables. Only NextSong
// events contribute to any of them.
func (p *Pipeline) ProcessLogData(ctx context.Context, logData, output string, catalog []transform.CatalogEntry, stats *Stats) error {
	if stats == nil {
		stats = newStats()
	}
	records, err := p.source.ReadEvents(ctx, logData)
	if err != nil {
		return fmt.Errorf("failed to read log data: %w", err)
	}
	plays := transform.FilterSongPlays(records)
	stats.EventRecords = len(records)
	stats.SongPlayEvents = len(plays)
	p.logger.WithFields(logrus.Fields{"records": len(records), "song_plays": len(plays)}).Info("Log data read")

	users, err := transform.ExtractUsers(ctx, p.cfg, plays)
	if err != nil {
		return err
	}
	if err := write(ctx, p.sink, stats, users, output, "users", UsersTable, "gender"); err != nil {
		return err
	}

	events, err := transform.TimestampEvents(ctx, p.cfg, plays)
	if err != nil {
		return err
	}
	if err := write(ctx, p.sink, stats, transform.TimeRows(events), output, "time", TimeTable, "year", "month"); err != nil {
		return err
	}

	res, err := p.joiner.Join(ctx, p.cfg, events, catalog)
	if err != nil {
		return err
	}
	stats.MatchedEvents = res.Matched
	stats.UnresolvedEvents = res.Unresolved
	if res.Unresolved > 0 {
		p.logger.WithFields(logrus.Fields{
			"unresolved": res.Unresolved,
			"matched":    res.Matched,
		}).Warn("Song plays without a catalog match were dropped")
	}
	return write(ctx, p.sink, stats, res.Rows, output, "songplays", SongplaysTable, "year", "month")
}

func write[T any](ctx context.Context, w sink.Writer, stats *Stats, rows []T, output, dir, table string, partitionColumns ...string) error {
	base, err := tableBase(output, dir)
	if err != nil {
		return err
	}
	res, err := sink.Write(ctx, w, rows, base, table, partitionColumns...)
	if err != nil {
		return err
	}
	stats.addTable(res)
	return nil
}

func tableBase(output, dir string) (string, error) {
	loc, err := storage.ParseLocation(output)
	if err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}
	return loc.Join(dir).String(), nil
}
