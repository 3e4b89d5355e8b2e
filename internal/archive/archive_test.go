package archive

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/require"
	"github.com/valyala/gozstd"
)

type fakeS3 struct {
	s3iface.S3API
	puts []*s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveCompressesUnderDateKey(t *testing.T) {
	fake := &fakeS3{}
	a := &S3Archiver{
		Client: fake,
		Bucket: "bounces",
		Prefix: "raw",
		Now:    func() time.Time { return time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC) },
	}

	raw := []byte("Subject: Undelivered\r\n\r\nuser unknown")
	key, err := a.Archive(context.Background(), raw)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^raw/2024/03/09/08/07/06/[0-9a-f-]{36}\.eml\.zstd$`), key)

	require.Len(t, fake.puts, 1)
	require.Equal(t, "bounces", aws.StringValue(fake.puts[0].Bucket))
	require.Equal(t, key, aws.StringValue(fake.puts[0].Key))

	plain, err := gozstd.Decompress(nil, fake.body)
	require.NoError(t, err)
	require.Equal(t, raw, plain)
}

func TestArchiveUploadFailure(t *testing.T) {
	a := &S3Archiver{Client: &fakeS3{err: errors.New("denied")}, Bucket: "bounces"}
	_, err := a.Archive(context.Background(), []byte("x"))
	require.ErrorContains(t, err, "denied")
}
