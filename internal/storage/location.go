// Package storage resolves data locations and builds the AWS clients used to
// reach the remote ones.
package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Location is either a local filesystem path or an S3 bucket and key.
type Location struct {
	Bucket string // empty for local paths
	Key    string // object key or key prefix, no leading slash
	Path   string // local path
}

func (l Location) IsS3() bool { return l.Bucket != "" }

func (l Location) String() string {
	if l.IsS3() {
		if l.Key == "" {
			return "s3://" + l.Bucket
		}
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Path
}

// Join appends path elements, using forward slashes for S3 keys.
func (l Location) Join(elem ...string) Location {
	if l.IsS3() {
		parts := append([]string{l.Key}, elem...)
		l.Key = strings.TrimPrefix(path.Join(parts...), "/")
		return l
	}
	l.Path = filepath.Join(append([]string{l.Path}, elem...)...)
	return l
}

// ParseLocation accepts s3://, s3a:// and s3n:// URIs and plain local paths.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("empty location")
	}
	for _, scheme := range []string{"s3://", "s3a://", "s3n://"} {
		if !strings.HasPrefix(raw, scheme) {
			continue
		}
		rest := strings.TrimPrefix(raw, scheme)
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("location %q has no bucket", raw)
		}
		return Location{Bucket: bucket, Key: strings.TrimPrefix(key, "/")}, nil
	}
	if strings.Contains(raw, "://") {
		return Location{}, fmt.Errorf("unsupported location scheme in %q", raw)
	}
	return Location{Path: filepath.Clean(raw)}, nil
}

// SplitPattern separates the literal prefix of a key from a trailing glob
// pattern. "song_data/*/*/*.json" yields "song_data/" and "*/*/*.json".
func SplitPattern(key string) (prefix, pattern string) {
	i := strings.IndexAny(key, "*?[")
	if i < 0 {
		return key, ""
	}
	slash := strings.LastIndex(key[:i], "/")
	return key[:slash+1], key[slash+1:]
}
