package mirror

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"svld/internal/config"
	"svld/internal/svld"
)

// NewMirrorFromConfig creates the configured mirror. It returns nil, nil when
// mirroring is disabled.
func NewMirrorFromConfig(ctx context.Context, cfg config.MirrorConfig, walker Walker, logger svld.Logger) (*S3Mirror, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 mirror requires s3_bucket to be set")
		}
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Mirror(client, cfg.S3Bucket, cfg.S3Prefix, walker, logger), nil
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}

func newS3Client(ctx context.Context, cfg config.MirrorConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	// Explicit credentials take precedence over the default chain.
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}
