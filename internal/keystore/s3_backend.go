package keystore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	awshttp "github.com/aws/smithy-go/transport/http"
)

// S3API はS3Backendが使うS3クライアントのメソッド。*s3.Client が満たす。
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend はキーセットごとに1オブジェクトとしてS3に保存するBackend。
// 楽観ロックにはETagを使う（挿入は If-None-Match、更新は If-Match）。
type S3Backend struct {
	client S3API
	bucket string
	prefix string
}

var _ Backend = (*S3Backend)(nil)

// NewS3Backend は新しいS3Backendを生成する。
func NewS3Backend(client S3API, bucket, prefix string) (*S3Backend, error) {
	if client == nil {
		return nil, errors.New("s3 client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket name cannot be empty")
	}
	return &S3Backend{client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *S3Backend) key(name string) string {
	return b.prefix + name + ".json"
}

// Get はオブジェクトを読み込み、ETagをバージョンとして返す。
func (b *S3Backend) Get(ctx context.Context, name string) (*Record, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("keyset %q: %w", name, ErrKeysetNotFound)
		}
		return nil, fmt.Errorf("getting object %s/%s: %w", b.bucket, b.key(name), err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object body: %w", err)
	}
	etag := aws.ToString(out.ETag)
	if etag == "" {
		return nil, fmt.Errorf("object %s/%s has no ETag", b.bucket, b.key(name))
	}
	return &Record{Payload: payload, Version: etag}, nil
}

// Insert はオブジェクトが存在しない場合のみ書き込む。
func (b *S3Backend) Insert(ctx context.Context, name string, payload []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(name)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("keyset %q: %w", name, ErrKeysetExists)
		}
		return fmt.Errorf("putting object %s/%s: %w", b.bucket, b.key(name), err)
	}
	slog.DebugContext(ctx, "s3 object created", "bucket", b.bucket, "key", b.key(name))
	return nil
}

// Update はETagが version と一致する場合のみ上書きする。
func (b *S3Backend) Update(ctx context.Context, name string, payload []byte, version string) (string, error) {
	if version == "" {
		return "", errors.New("s3 update requires an ETag")
	}
	out, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(name)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		IfMatch:     aws.String(version),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("keyset %q: %w", name, ErrConflict)
		}
		if isS3NotFound(err) {
			return "", fmt.Errorf("keyset %q: %w", name, ErrKeysetNotFound)
		}
		return "", fmt.Errorf("putting object %s/%s: %w", b.bucket, b.key(name), err)
	}
	return aws.ToString(out.ETag), nil
}

// Delete はオブジェクトを削除する。S3のDeleteObjectは存在しないキーでも成功するため事前に確認する。
func (b *S3Backend) Delete(ctx context.Context, name string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("keyset %q: %w", name, ErrKeysetNotFound)
		}
		return fmt.Errorf("heading object %s/%s: %w", b.bucket, b.key(name), err)
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		return fmt.Errorf("deleting object %s/%s: %w", b.bucket, b.key(name), err)
	}
	slog.DebugContext(ctx, "s3 object deleted", "bucket", b.bucket, "key", b.key(name))
	return nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func isPreconditionFailed(err error) bool {
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusPreconditionFailed
}
