// utils/r2.go
package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"travel-missions/apperr"
	"travel-missions/config"
)

// R2 resolves uploaded completion photos stored in a Cloudflare R2 (S3
// compatible) bucket into public URLs.
type R2 struct {
	Client     *s3.Client
	Bucket     string
	CDNBaseURL string
}

func NewR2(ctx context.Context, cfg config.R2Config) (*R2, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	cdnBaseURL := strings.TrimRight(cfg.CDNBaseURL, "/")
	if cdnBaseURL == "" {
		cdnBaseURL = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &R2{Client: client, Bucket: cfg.Bucket, CDNBaseURL: cdnBaseURL}, nil
}

// ResolveImageURL checks that key exists in the bucket and returns its public
// URL. A missing object is a NotFound error.
func (r *R2) ResolveImageURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") {
		return "", apperr.New(apperr.InvalidArgument, "invalid image key")
	}

	_, err := r.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingObject(err) {
			return "", apperr.New(apperr.NotFound, "image "+key+" not found")
		}
		return "", fmt.Errorf("failed to look up image in R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", r.CDNBaseURL, key), nil
}

func isMissingObject(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
