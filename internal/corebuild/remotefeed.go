package corebuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/schollz/progressbar/v3"
)

// RemoteFeed is the optional S3-compatible binary cache mirror spec.md §4.4
// step 3(a) posts .nupkg uploads to, grounded directly on
// internal/hokuto/r2.go's R2Client — generalized from Cloudflare R2's
// account-scoped endpoint to any S3-compatible endpoint named by
// VCPKG_BINARYCACHING_FEED, since SPEC_FULL.md's domain stack calls for
// wiring aws-sdk-go-v2 without hardcoding a single vendor.
type RemoteFeed struct {
	Client     *s3.Client
	BucketName string
}

// NewRemoteFeed builds a RemoteFeed from a Config, using
// VCPKG_BINARYCACHING_FEED as the endpoint URL and R2_BUCKET_NAME/
// R2_ACCESS_KEY_ID/R2_SECRET_ACCESS_KEY (kept from the teacher's env var
// names, since operators migrating from hokuto already have them set) for
// credentials. Returns (nil, nil) — not an error — when no feed URL is
// configured: the orchestrator treats an absent RemoteFeed exactly like an
// unconfigured remote, per spec.md §4.4 step 3's (a)/(b) split.
func NewRemoteFeed(cfg *Config) (*RemoteFeed, error) {
	if cfg.RemoteFeedURL == "" {
		return nil, nil
	}

	accessKey := cfg.Values["R2_ACCESS_KEY_ID"]
	secretKey := cfg.Values["R2_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["R2_BUCKET_NAME"]
	if accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("VCPKG_BINARYCACHING_FEED is set but R2_ACCESS_KEY_ID/R2_SECRET_ACCESS_KEY/R2_BUCKET_NAME are missing")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: cfg.RemoteFeedURL}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote feed config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &RemoteFeed{Client: client, BucketName: bucketName}, nil
}

// UploadNupkg pushes a .nupkg to the remote feed under key, tracking
// transfer progress on a progressbar.v3 bar when showProgress is set, since this is the one
// operation in the core whose duration depends on network conditions
// rather than local CPU/disk work.
func (f *RemoteFeed) UploadNupkg(ctx context.Context, key string, body []byte, showProgress bool) error {
	var reader io.Reader = bytes.NewReader(body)
	if showProgress {
		bar := progressbar.DefaultBytes(int64(len(body)), fmt.Sprintf("uploading %s", key))
		reader = io.TeeReader(bytes.NewReader(body), bar)
	}

	_, err := f.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.BucketName),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
	})
	return err
}

// DownloadNupkg restores a .nupkg from the remote feed into destPath,
// tracking transfer progress the same way UploadNupkg does.
func (f *RemoteFeed) DownloadNupkg(ctx context.Context, key, destPath string, showProgress bool) error {
	output, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer output.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var dest io.Writer = out
	if showProgress && output.ContentLength != nil {
		bar := progressbar.DefaultBytes(*output.ContentLength, fmt.Sprintf("downloading %s", key))
		dest = io.MultiWriter(out, bar)
	}

	_, err = io.Copy(dest, output.Body)
	return err
}

// Exists checks whether key is already present on the remote feed.
// Orchestrator.publish does not call it; it posts the upload unconditionally.
func (f *RemoteFeed) Exists(ctx context.Context, key string) (bool, error) {
	_, err := f.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
