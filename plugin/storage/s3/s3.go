package s3

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type Client struct {
	Client *s3.Client
	Bucket *string
}

func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := []func(*s3config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, s3config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, s3config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsConfig, err := s3config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load s3 config")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{
		Client: client,
		Bucket: aws.String(cfg.Bucket),
	}, nil
}

// ListObjects returns the keys under prefix that end with suffix.
func (c *Client) ListObjects(ctx context.Context, prefix, suffix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(c.Client, &s3.ListObjectsV2Input{
		Bucket: c.Bucket,
		Prefix: aws.String(prefix),
	})
	keys := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list objects in %s", *c.Bucket)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if suffix != "" && !strings.HasSuffix(strings.ToLower(key), suffix) {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// GetObject downloads the object with the given key.
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	downloader := manager.NewDownloader(c.Client)
	buffer := manager.NewWriteAtBuffer([]byte{})
	if _, err := downloader.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket: c.Bucket,
		Key:    aws.String(key),
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to download %s", key)
	}
	return buffer.Bytes(), nil
}
