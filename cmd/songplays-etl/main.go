package main

import (
	"context"
	"log"
	"os"

	_ "time/tzdata"

	"github.com/spf13/pflag"

	"songplays_etl/internal/config"
	"songplays_etl/internal/logging"
	"songplays_etl/internal/pipeline"
	"songplays_etl/internal/sink"
	"songplays_etl/internal/source"
	"songplays_etl/internal/storage"
	"songplays_etl/internal/transform"
)

func main() {
	flags := pflag.NewFlagSet("songplays-etl", pflag.ExitOnError)
	configPath := flags.String("config", "", "configuration file (default config/config.yaml)")
	flags.String("input", "", "profile to read from: local or remote")
	flags.String("output", "", "profile to write to: local or remote")
	flags.Int("workers", 0, "shards processed concurrently")
	flags.String("timezone", "", "session time zone for event timestamps")
	flags.String("log-level", "", "log level")
	flags.String("stats", "", "run statistics file, empty to skip")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Run.LogLevel, cfg.Run.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	in, err := cfg.InputProfile()
	if err != nil {
		logger.Fatalf("Invalid input profile: %v", err)
	}
	out, err := cfg.OutputProfile()
	if err != nil {
		logger.Fatalf("Invalid output profile: %v", err)
	}
	loc, err := cfg.Run.Location()
	if err != nil {
		logger.Fatal(err)
	}
	matcher, err := transform.MatcherByName(cfg.Run.Match)
	if err != nil {
		logger.Fatal(err)
	}

	clients := storage.NewLazyClients(cfg.AWS)
	remoteStore := func() (source.Store, error) {
		c, err := clients.Get()
		if err != nil {
			return nil, err
		}
		return source.NewS3Store(c.S3), nil
	}
	remoteBackend := func() (*sink.S3Backend, error) {
		c, err := clients.Get()
		if err != nil {
			return nil, err
		}
		return sink.NewS3Backend(c.S3, c.Uploader, cfg.Run.Workers, logger), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Run.Timeout)
	defer cancel()

	if dest, err := storage.ParseLocation(out.OutputPath); err != nil {
		logger.Fatalf("Invalid output path: %v", err)
	} else if dest.IsS3() {
		backend, err := remoteBackend()
		if err != nil {
			logger.Fatalf("Failed to set up S3: %v", err)
		}
		if err := backend.CheckAccess(ctx, dest); err != nil {
			logger.Fatalf("S3 access test failed: %v", err)
		}
	}

	writer, err := sink.NewParquetSink(sink.LocalBackend{}, func() (sink.Backend, error) {
		b, err := remoteBackend()
		if err != nil {
			return nil, err
		}
		return b, nil
	}, sink.Options{
		Compression: cfg.Run.Compression,
		Workers:     cfg.Run.Workers,
	}, logger)
	if err != nil {
		logger.Fatal(err)
	}
	reader := source.NewReader(source.LocalStore{}, remoteStore, cfg.Run.Workers, logger)
	p := pipeline.New(reader, writer,
		transform.Config{Workers: cfg.Run.Workers, Location: loc},
		transform.NewJoiner(matcher), logger)

	stats, runErr := p.Run(ctx, pipeline.Paths{
		SongData: in.SongData,
		LogData:  in.LogData,
		Output:   out.OutputPath,
	})
	if cfg.Run.StatsPath != "" {
		if err := stats.WriteFile(cfg.Run.StatsPath); err != nil {
			logger.WithError(err).Warn("Failed to write stats")
		} else {
			logger.Infof("Successfully wrote stats to %s", cfg.Run.StatsPath)
		}
	}
	if runErr != nil {
		cancel()
		logger.Fatalf("Pipeline failed: %v", runErr)
	}
}
