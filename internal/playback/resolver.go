// Package playback turns stored video references into consumable URLs.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultExpiry is the validity of presigned playback URLs. SigV4 presigned
// URLs cannot outlive seven days.
const DefaultExpiry = 7 * 24 * time.Hour

// ErrInvalidReference is returned for references that are not bucket URIs
var ErrInvalidReference = errors.New("invalid video reference")

// Resolver turns a video reference into a time-limited URL.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Presigner is the subset of *s3.PresignClient the resolver needs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
}

// PresignedRequest mirrors the fields of the SDK's presigned request we use.
type PresignedRequest struct {
	URL string
}

// S3Config holds the S3 resolver configuration
type S3Config struct {
	Presigner Presigner
	Expiry    time.Duration
	Logger    *slog.Logger
}

// S3Resolver presigns GET requests against an S3-compatible endpoint. Both
// s3:// and gs:// references are accepted; gs:// objects are reached through
// the storage service's S3 interoperability API.
type S3Resolver struct {
	presigner Presigner
	expiry    time.Duration
	logger    *slog.Logger
}

// NewS3Resolver creates a new S3Resolver
func NewS3Resolver(cfg S3Config) *S3Resolver {
	expiry := cfg.Expiry
	if expiry <= 0 || expiry > DefaultExpiry {
		expiry = DefaultExpiry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Resolver{
		presigner: cfg.Presigner,
		expiry:    expiry,
		logger:    logger,
	}
}

// Resolve returns a presigned GET URL for ref.
func (r *S3Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	bucket, key, err := ParseReference(ref)
	if err != nil {
		return "", err
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = r.expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign video url: %w", err)
	}

	r.logger.Debug("Generated signed playback URL",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Duration("expires_in", r.expiry),
	)

	return req.URL, nil
}

// ParseReference splits gs://bucket/key or s3://bucket/key.
func ParseReference(ref string) (bucket, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if u.Scheme != "gs" && u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidReference, u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
	return u.Host, key, nil
}

// SDKPresigner adapts *s3.PresignClient to Presigner.
type SDKPresigner struct {
	Client *s3.PresignClient
}

// PresignGetObject presigns a GetObject call.
func (p SDKPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.Client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL}, nil
}

var _ Resolver = (*S3Resolver)(nil)
