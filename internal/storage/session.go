package storage

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"songplays_etl/internal/config"
)

// Clients bundles the S3 API handles shared by the remote source and sink.
type Clients struct {
	S3       s3iface.S3API
	Uploader s3manageriface.UploaderAPI
}

// NewSession builds an AWS session from the aws section of the configuration.
// Static keys are used when present, otherwise the default credential chain.
func NewSession(cfg config.AWSConfig) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}

// LazyClients creates the S3 clients on first use so local-only runs never
// touch AWS configuration.
type LazyClients struct {
	cfg  config.AWSConfig
	once sync.Once
	c    *Clients
	err  error
}

func NewLazyClients(cfg config.AWSConfig) *LazyClients {
	return &LazyClients{cfg: cfg}
}

func (l *LazyClients) Get() (*Clients, error) {
	l.once.Do(func() {
		sess, err := NewSession(l.cfg)
		if err != nil {
			l.err = err
			return
		}
		l.c = &Clients{
			S3:       s3.New(sess),
			Uploader: s3manager.NewUploader(sess),
		}
	})
	return l.c, l.err
}
