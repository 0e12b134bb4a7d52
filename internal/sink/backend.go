package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"songplays_etl/internal/storage"
)

// LocalBackend stages next to the destination and swaps directories on
// promotion.
type LocalBackend struct{}

func (LocalBackend) Stage(_ context.Context, dest storage.Location) (string, error) {
	parent := filepath.Dir(dest.Path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", parent, err)
	}
	dir, err := os.MkdirTemp(parent, "."+filepath.Base(dest.Path)+"-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

func (LocalBackend) Promote(_ context.Context, staging string, _ []StagedFile, dest storage.Location) error {
	old := staging + ".old"
	hadOld := true
	if err := os.Rename(dest.Path, old); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to move previous %s aside: %w", dest.Path, err)
		}
		hadOld = false
	}
	if err := os.Rename(staging, dest.Path); err != nil {
		if hadOld {
			os.Rename(old, dest.Path)
		}
		return fmt.Errorf("failed to promote %s: %w", dest.Path, err)
	}
	if hadOld {
		os.RemoveAll(old)
	}
	return nil
}

func (LocalBackend) Discard(staging string) {
	os.RemoveAll(staging)
}

// deleteBatch is the most keys DeleteObjects accepts per call.
const deleteBatch = 1000

// S3Backend stages in a temp directory, uploads the staged files and then
// deletes whatever else was stored under the table prefix.
type S3Backend struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	workers  int
	logger   logrus.FieldLogger
}

func NewS3Backend(client s3iface.S3API, uploader s3manageriface.UploaderAPI, workers int, logger logrus.FieldLogger) *S3Backend {
	if workers < 1 {
		workers = 1
	}
	return &S3Backend{client: client, uploader: uploader, workers: workers, logger: logger}
}

func (b *S3Backend) Stage(_ context.Context, dest storage.Location) (string, error) {
	dir, err := os.MkdirTemp("", "parquet_temp_"+filepath.Base(dest.Key)+"_")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	return dir, nil
}

func (b *S3Backend) Discard(staging string) {
	if err := os.RemoveAll(staging); err != nil {
		b.logger.WithError(err).Warnf("Failed to remove temp directory %s", staging)
	}
}

// Promote uploads the data files, deletes every other key under the table
// prefix and uploads the completion marker last. A failed upload removes the
// data files uploaded so far and leaves the previous marker in place.
func (b *S3Backend) Promote(ctx context.Context, staging string, files []StagedFile, dest storage.Location) error {
	prefix := strings.TrimSuffix(dest.Key, "/") + "/"
	var data, markers []StagedFile
	for _, f := range files {
		if path.Base(f.Rel) == SuccessMarker {
			markers = append(markers, f)
		} else {
			data = append(data, f)
		}
	}

	keys := make([]string, len(data))
	uploaded := make([]bool, len(data))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, f := range data {
		i, f := i, f
		keys[i] = prefix + f.Rel
		g.Go(func() error {
			if err := b.upload(gctx, filepath.Join(staging, filepath.FromSlash(f.Rel)), dest.Bucket, keys[i], f.Rows); err != nil {
				return err
			}
			uploaded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var partial []string
		for i, ok := range uploaded {
			if ok {
				partial = append(partial, keys[i])
			}
		}
		if derr := b.deleteKeys(context.WithoutCancel(ctx), dest.Bucket, partial); derr != nil {
			b.logger.WithError(derr).Warnf("Failed to remove partial upload under %s", dest)
		}
		return err
	}

	keep := make(map[string]bool, len(files))
	for _, k := range keys {
		keep[k] = true
	}
	for _, m := range markers {
		keep[prefix+m.Rel] = true
	}
	var stale []string
	err := b.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{Bucket: aws.String(dest.Bucket), Prefix: aws.String(prefix)},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				if k := aws.StringValue(obj.Key); !keep[k] {
					stale = append(stale, k)
				}
			}
			return !lastPage
		})
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}
	if err := b.deleteKeys(ctx, dest.Bucket, stale); err != nil {
		return err
	}

	for _, m := range markers {
		if err := b.upload(ctx, filepath.Join(staging, filepath.FromSlash(m.Rel)), dest.Bucket, prefix+m.Rel, m.Rows); err != nil {
			return err
		}
	}
	b.logger.WithFields(logrus.Fields{"path": dest.String(), "uploaded": len(files), "deleted": len(stale)}).Debug("Table promoted")

	b.Discard(staging)
	return nil
}

// upload stores one staged file and confirms it with HeadObject.
func (b *S3Backend) upload(ctx context.Context, path, bucket, key string, rows int) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open temp file for upload: %w", err)
	}
	defer file.Close()

	_, err = b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
		Metadata: map[string]*string{
			"record-count": aws.String(strconv.Itoa(rows)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	_, err = b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("upload verification failed for %s: %w", key, err)
	}
	return nil
}

// connectionTestKey is written and removed by CheckAccess.
const connectionTestKey = "_connection_test"

// CheckAccess confirms the credentials can upload to and delete from dest
// before any table is built.
func (b *S3Backend) CheckAccess(ctx context.Context, dest storage.Location) error {
	key := dest.Join(connectionTestKey).Key
	_, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(dest.Bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader("S3 connection test successful"),
	})
	if err != nil {
		return fmt.Errorf("S3 upload test failed: %w", err)
	}
	if err := b.deleteKeys(ctx, dest.Bucket, []string{key}); err != nil {
		return fmt.Errorf("S3 delete test failed: %w", err)
	}
	b.logger.WithField("path", dest.String()).Debug("S3 access verified")
	return nil
}

// deleteKeys removes keys in batches. Per-key failures reported in the
// response body are errors too.
func (b *S3Backend) deleteKeys(ctx context.Context, bucket string, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		objs := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objs = append(objs, &s3.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := b.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %s: %s %s", len(out.Errors),
				aws.StringValue(first.Key), aws.StringValue(first.Code), aws.StringValue(first.Message))
		}
	}
	return nil
}
