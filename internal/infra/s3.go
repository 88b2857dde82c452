package infra

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client は既定の認証情報チェーンからS3クライアントを生成する。
// AWS_ENDPOINT_URL_S3 などSDK標準の環境変数でエンドポイントを差し替えられる。
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if awsCfg.Region == "" {
			o.Region = "us-east-1"
		}
	}), nil
}
