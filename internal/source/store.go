package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"songplays_etl/internal/storage"
)

// Store lists the input files behind a location and opens them by name.
type Store interface {
	List(ctx context.Context, loc storage.Location) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// LocalStore reads from the filesystem. A location is a file, a directory
// (searched recursively for .json files) or a glob.
type LocalStore struct{}

func (LocalStore) List(_ context.Context, loc storage.Location) ([]string, error) {
	if strings.ContainsAny(loc.Path, "*?[") {
		names, err := filepath.Glob(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", loc.Path, err)
		}
		sort.Strings(names)
		return names, nil
	}

	info, err := os.Stat(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", loc.Path, err)
	}
	if !info.IsDir() {
		return []string{loc.Path}, nil
	}

	var names []string
	err = filepath.WalkDir(loc.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			names = append(names, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", loc.Path, err)
	}
	sort.Strings(names)
	return names, nil
}

func (LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// S3Store reads objects from S3. Keys may end in a glob pattern matched
// segment by segment, otherwise every .json object under the prefix is read.
type S3Store struct {
	client s3iface.S3API
}

func NewS3Store(client s3iface.S3API) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) List(ctx context.Context, loc storage.Location) ([]string, error) {
	prefix, pattern := storage.SplitPattern(loc.Key)

	var names []string
	var matchErr error
	err := s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{Bucket: aws.String(loc.Bucket), Prefix: aws.String(prefix)},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				if pattern == "" {
					if strings.HasSuffix(key, ".json") {
						names = append(names, storage.Location{Bucket: loc.Bucket, Key: key}.String())
					}
					continue
				}
				ok, err := path.Match(pattern, strings.TrimPrefix(key, prefix))
				if err != nil {
					matchErr = err
					return false
				}
				if ok {
					names = append(names, storage.Location{Bucket: loc.Bucket, Key: key}.String())
				}
			}
			return !lastPage
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", loc, err)
	}
	if matchErr != nil {
		return nil, fmt.Errorf("bad pattern %s: %w", loc, matchErr)
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	loc, err := storage.ParseLocation(name)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start download stream for %s: %w", name, err)
	}
	return out.Body, nil
}
