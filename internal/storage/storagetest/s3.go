// Package storagetest provides an in-memory S3 for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Object is a stored body with its upload metadata.
type Object struct {
	Body     []byte
	Metadata map[string]string
}

// S3 implements the parts of s3iface.S3API and s3manageriface.UploaderAPI the
// source and sink use. Calls to any other S3API method panic.
type S3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string]Object // bucket + "/" + key

	// PageSize bounds the keys returned per listing page.
	PageSize int
	// FailUpload, when set, is returned by uploads of keys containing it.
	FailUpload string
	FailErr    error
	// LoseUpload, when set, makes uploads of keys containing it report
	// success without storing anything.
	LoseUpload string
	// FailDelete, when set, makes DeleteObjects report an AccessDenied entry
	// for keys containing it and keep them.
	FailDelete string
}

func NewS3() *S3 {
	return &S3{objects: make(map[string]Object), PageSize: 2}
}

func id(bucket, key string) string { return bucket + "/" + key }

// Put stores an object directly.
func (f *S3) Put(bucket, key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id(bucket, key)] = Object{Body: body}
}

// Get returns a stored object.
func (f *S3) Get(bucket, key string) (Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[id(bucket, key)]
	return o, ok
}

// Keys lists the keys of bucket under prefix in order.
func (f *S3) Keys(bucket, prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		b, key, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *S3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	keys := f.Keys(aws.StringValue(in.Bucket), aws.StringValue(in.Prefix))
	size := f.PageSize
	if size < 1 {
		size = 1000
	}
	for start := 0; ; start += size {
		end := min(start+size, len(keys))
		page := &s3.ListObjectsV2Output{}
		for _, k := range keys[start:end] {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
		last := end >= len(keys)
		if !fn(page, last) || last {
			return nil
		}
	}
}

func (f *S3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	o, ok := f.Get(aws.StringValue(in.Bucket), aws.StringValue(in.Key))
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", aws.StringValue(in.Key))
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.Body)),
		ContentLength: aws.Int64(int64(len(o.Body))),
	}, nil
}

func (f *S3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	o, ok := f.Get(aws.StringValue(in.Bucket), aws.StringValue(in.Key))
	if !ok {
		return nil, fmt.Errorf("NotFound: %s", aws.StringValue(in.Key))
	}
	meta := make(map[string]*string, len(o.Metadata))
	for k, v := range o.Metadata {
		meta[k] = aws.String(v)
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(o.Body))), Metadata: meta}, nil
}

func (f *S3) DeleteObjectsWithContext(_ aws.Context, in *s3.DeleteObjectsInput, _ ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.DeleteObjectsOutput{}
	for _, obj := range in.Delete.Objects {
		if f.FailDelete != "" && strings.Contains(aws.StringValue(obj.Key), f.FailDelete) {
			out.Errors = append(out.Errors, &s3.Error{Key: obj.Key, Code: aws.String("AccessDenied"), Message: aws.String("Access Denied")})
			continue
		}
		delete(f.objects, id(aws.StringValue(in.Bucket), aws.StringValue(obj.Key)))
		out.Deleted = append(out.Deleted, &s3.DeletedObject{Key: obj.Key})
	}
	return out, nil
}

func (f *S3) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), in, opts...)
}

func (f *S3) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	key := aws.StringValue(in.Key)
	if f.FailUpload != "" && strings.Contains(key, f.FailUpload) {
		return nil, f.FailErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.LoseUpload != "" && strings.Contains(key, f.LoseUpload) {
		return &s3manager.UploadOutput{}, nil
	}
	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = aws.StringValue(v)
	}
	f.mu.Lock()
	f.objects[id(aws.StringValue(in.Bucket), key)] = Object{Body: body, Metadata: meta}
	f.mu.Unlock()
	return &s3manager.UploadOutput{Location: "https://" + aws.StringValue(in.Bucket) + ".s3.amazonaws.com/" + key}, nil
}

// MetadataInt reads an integer metadata value, or -1.
func (o Object) MetadataInt(name string) int {
	n, err := strconv.Atoi(o.Metadata[name])
	if err != nil {
		return -1
	}
	return n
}
