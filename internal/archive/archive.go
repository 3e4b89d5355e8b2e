// Package archive keeps raw bounce messages in object storage before they
// are purged from the mailbox.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/valyala/gozstd"
)

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Archiver uploads zstd compressed messages under a date based key.
type S3Archiver struct {
	Client s3iface.S3API
	Bucket string
	Prefix string
	Now    func() time.Time
}

func NewS3Archiver(cfg Config) (*S3Archiver, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(cfg.Region),
		Endpoint:         aws.String(cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(cfg.Endpoint != ""),
		Credentials: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.StaticProvider{
				Value: credentials.Value{
					AccessKeyID:     cfg.AccessKey,
					SecretAccessKey: cfg.SecretKey,
				},
			},
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	return &S3Archiver{Client: s3.New(sess), Bucket: cfg.Bucket, Prefix: cfg.Prefix}, nil
}

// ObjectKey builds PREFIX/YYYY/MM/DD/HH/mm/ss/UUID.eml.zstd.
func (a *S3Archiver) ObjectKey() string {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	key := fmt.Sprintf("%04d/%02d/%02d/%02d/%02d/%02d/%s.eml.zstd",
		now.Year(), now.Month(), now.Day(),
		now.Hour(), now.Minute(), now.Second(),
		uuid.New().String())
	if a.Prefix != "" {
		key = a.Prefix + "/" + key
	}
	return key
}

// Archive stores raw and returns its object key.
func (a *S3Archiver) Archive(ctx context.Context, raw []byte) (string, error) {
	key := a.ObjectKey()
	_, err := a.Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(gozstd.Compress(nil, raw)),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
