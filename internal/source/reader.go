// Package source reads catalog and activity records from local files or S3.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"songplays_etl/internal/model"
	"songplays_etl/internal/storage"
)

// Reader resolves a location to a store and decodes every file behind it.
type Reader struct {
	local   Store
	remote  func() (Store, error)
	workers int
	logger  logrus.FieldLogger
}

// NewReader builds a reader. remote is called the first time an s3:// location
// is read and may be nil when only local locations are used.
func NewReader(local Store, remote func() (Store, error), workers int, logger logrus.FieldLogger) *Reader {
	if workers < 1 {
		workers = 1
	}
	return &Reader{local: local, remote: remote, workers: workers, logger: logger}
}

func (r *Reader) store(loc storage.Location) (Store, error) {
	if !loc.IsS3() {
		return r.local, nil
	}
	if r.remote == nil {
		return nil, fmt.Errorf("no remote store configured for %s", loc)
	}
	return r.remote()
}

// ReadCatalog reads catalog records from location.
func (r *Reader) ReadCatalog(ctx context.Context, location string) ([]model.CatalogRecord, error) {
	return readAll[model.CatalogRecord](ctx, r, location)
}

// ReadEvents reads activity log records from location.
func (r *Reader) ReadEvents(ctx context.Context, location string) ([]model.EventRecord, error) {
	return readAll[model.EventRecord](ctx, r, location)
}

func readAll[T any](ctx context.Context, r *Reader, location string) ([]T, error) {
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	st, err := r.store(loc)
	if err != nil {
		return nil, err
	}
	names, err := st.List(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no input files match %s", loc)
	}
	r.logger.WithFields(logrus.Fields{"location": loc.String(), "files": len(names)}).Info("Reading input files")

	perFile := make([][]T, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			rc, err := st.Open(gctx, name)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", name, err)
			}
			defer rc.Close()
			recs, err := Decode[T](rc, name)
			if err != nil {
				return err
			}
			perFile[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, recs := range perFile {
		total += len(recs)
	}
	out := make([]T, 0, total)
	for _, recs := range perFile {
		out = append(out, recs...)
	}
	r.logger.WithFields(logrus.Fields{"location": loc.String(), "records": total}).Info("Input read")
	return out, nil
}

// Decode reads a stream of JSON objects, one per line or simply concatenated.
// Values of the wrong type and invalid JSON are reported as malformed records.
func Decode[T any](rd io.Reader, name string) ([]T, error) {
	dec := json.NewDecoder(rd)
	var out []T
	for i := 0; ; i++ {
		var rec T
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, &model.MalformedRecordError{
					Source: name,
					Index:  i,
					Field:  typeErr.Field,
					Reason: fmt.Sprintf("has JSON type %s, want %s", typeErr.Value, typeErr.Type),
					Cause:  err,
				}
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, &model.MalformedRecordError{Source: name, Index: i, Reason: "is not valid JSON", Cause: err}
			}
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		out = append(out, rec)
	}
}
