// Package sink persists tables as partitioned parquet datasets.
//
// A table is written to basePath/tableName with one directory level per
// partition column, in the listed order ("year=2018/month=11"). Partition
// columns are not repeated inside the files. Writing replaces whatever was
// stored at the table path before: the new dataset is staged completely and
// promoted only once every file has been written, so a failure leaves the
// previous dataset in place.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"songplays_etl/internal/storage"
)

// SuccessMarker is written next to the data files once a table is complete.
const SuccessMarker = "_SUCCESS"

// ErrSinkWrite is matched by every SinkWriteError.
var ErrSinkWrite = errors.New("sink write failed")

// SinkWriteError wraps a storage failure while persisting a table.
type SinkWriteError struct {
	Table string
	Path  string
	Cause error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("failed to write table %s to %s: %v", e.Table, e.Path, e.Cause)
}

func (e *SinkWriteError) Is(target error) bool { return target == ErrSinkWrite }

func (e *SinkWriteError) Unwrap() error { return e.Cause }

// WriteResult describes a persisted table.
type WriteResult struct {
	Table      string
	Path       string
	Rows       int
	Partitions int
	Files      []string // relative to Path
}

// Writer persists rows, a slice of structs with parquet tags, under
// basePath/tableName partitioned by the named columns.
type Writer interface {
	WriteTable(ctx context.Context, rows any, basePath, tableName string, partitionColumns []string) (WriteResult, error)
}

// Write is the typed form of Writer.WriteTable.
func Write[T any](ctx context.Context, w Writer, rows []T, basePath, tableName string, partitionColumns ...string) (WriteResult, error) {
	if rows == nil {
		rows = []T{}
	}
	return w.WriteTable(ctx, rows, basePath, tableName, partitionColumns)
}

// StagedFile is a file of a staged table, relative to the staging directory.
type StagedFile struct {
	Rel  string // slash separated
	Rows int
}

// Backend moves a table built in a local staging directory to its final
// location.
type Backend interface {
	// Stage returns an empty local directory to build the table for dest in.
	Stage(ctx context.Context, dest storage.Location) (string, error)
	// Promote replaces whatever is stored at dest with the staged files.
	Promote(ctx context.Context, staging string, files []StagedFile, dest storage.Location) error
	// Discard removes a staging directory that will not be promoted.
	Discard(staging string)
}

type Options struct {
	Compression string
	Workers     int
	RunID       string // file name component, random when empty
}

// ParquetSink is the parquet Writer.
type ParquetSink struct {
	local   Backend
	remote  func() (Backend, error)
	codec   Codec
	workers int
	runID   string
	logger  logrus.FieldLogger
}

// NewParquetSink builds a sink writing local paths through local and s3://
// paths through the backend returned by remote, which may be nil.
func NewParquetSink(local Backend, remote func() (Backend, error), opts Options, logger logrus.FieldLogger) (*ParquetSink, error) {
	codec, err := ParseCodec(opts.Compression)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &ParquetSink{local: local, remote: remote, codec: codec, workers: workers, runID: runID, logger: logger}, nil
}

func validTableName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("table name is empty")
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("table name %q may not start with a dot", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("table name %q may not contain path separators", name)
	}
	return nil
}

func (s *ParquetSink) backend(dest storage.Location) (Backend, error) {
	if !dest.IsS3() {
		return s.local, nil
	}
	if s.remote == nil {
		return nil, fmt.Errorf("no remote backend configured for %s", dest)
	}
	return s.remote()
}

// WriteTable implements Writer.
func (s *ParquetSink) WriteTable(ctx context.Context, rows any, basePath, tableName string, partitionColumns []string) (WriteResult, error) {
	rv := reflect.ValueOf(rows)
	if rv.Kind() != reflect.Slice {
		return WriteResult{}, fmt.Errorf("rows must be a slice, got %T", rows)
	}
	if err := validTableName(tableName); err != nil {
		return WriteResult{}, err
	}
	l, err := newLayout(rv.Type().Elem(), partitionColumns)
	if err != nil {
		return WriteResult{}, err
	}
	base, err := storage.ParseLocation(basePath)
	if err != nil {
		return WriteResult{}, err
	}
	dest := base.Join(tableName)
	backend, err := s.backend(dest)
	if err != nil {
		return WriteResult{}, err
	}

	groups := l.groups(rv)
	if len(groups) == 0 && len(l.partition) == 0 {
		// an unpartitioned empty table still gets a file carrying the schema
		groups = []group{{}}
	}

	fail := func(err error) (WriteResult, error) {
		return WriteResult{}, &SinkWriteError{Table: tableName, Path: dest.String(), Cause: err}
	}

	staging, err := backend.Stage(ctx, dest)
	if err != nil {
		return fail(err)
	}
	promoted := false
	defer func() {
		if !promoted {
			backend.Discard(staging)
		}
	}()

	files := make([]StagedFile, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rel := fmt.Sprintf("part-%05d-%s.c000%s.parquet", i, s.runID, s.codec.Ext)
			if grp.dir != "" {
				rel = grp.dir + "/" + rel
			}
			path := filepath.Join(staging, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := writeParquetFile(path, l, grp.rows, s.codec); err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			files[i] = StagedFile{Rel: rel, Rows: len(grp.rows)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	if err := os.WriteFile(filepath.Join(staging, SuccessMarker), nil, 0o644); err != nil {
		return fail(err)
	}
	files = append(files, StagedFile{Rel: SuccessMarker})

	if err := backend.Promote(ctx, staging, files, dest); err != nil {
		return fail(err)
	}
	promoted = true

	res := WriteResult{
		Table: tableName,
		Path:  dest.String(),
		Rows:  rv.Len(),
		Files: make([]string, 0, len(files)),
	}
	if len(l.partition) > 0 {
		res.Partitions = len(groups)
	}
	for _, f := range files {
		res.Files = append(res.Files, f.Rel)
	}
	s.logger.WithFields(logrus.Fields{
		"table":      tableName,
		"path":       res.Path,
		"rows":       res.Rows,
		"partitions": res.Partitions,
		"files":      len(files) - 1,
	}).Info("Table written")
	return res, nil
}
