package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/podcaststudio/internal/config"
)

// presignExpiry is how long vendor-fetchable links stay valid when the
// bucket has no public URL. Video jobs read the audio well within this.
const presignExpiry = 7 * 24 * time.Hour

// Client wraps S3 storage operations for generated media
type Client struct {
	s3Client  *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string // optional base URL for a public bucket (e.g. http://localhost:9000/podcast-media)
}

// NewClient creates a new S3 storage client
func NewClient(cfg *config.Config) (*Client, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	// Custom endpoint for MinIO/LocalStack/R2
	if cfg.S3Endpoint != "" {
		configOpts = append(configOpts, awsconfig.WithBaseEndpoint(cfg.S3Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Checksums only when required so S3-compatible backends without CRC32
	// header support keep working.
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	log.Info().
		Str("endpoint", cfg.S3Endpoint).
		Str("bucket", cfg.S3Bucket).
		Msg("S3 client initialized")

	return &Client{
		s3Client:  s3Client,
		presigner: s3.NewPresignClient(s3Client),
		bucket:    cfg.S3Bucket,
		publicURL: strings.TrimRight(cfg.S3PublicURL, "/"),
	}, nil
}

// AudioKey builds the object key for a synthesized audio file
func AudioKey(now time.Time, id uuid.UUID, mimeType string) string {
	return path.Join("audio", now.UTC().Format("2006/01/02"), id.String()+extension(mimeType))
}

// PublicURL returns the public URL for an object key. Empty if publicURL was not configured.
func (c *Client) PublicURL(key string) string {
	if c.publicURL == "" {
		return ""
	}
	return c.publicURL + "/" + key
}

// KeyFromURL returns the object key behind a URL produced by PublicURL.
func (c *Client) KeyFromURL(url string) (string, bool) {
	if c.publicURL == "" || !strings.HasPrefix(url, c.publicURL+"/") {
		return "", false
	}
	return strings.TrimPrefix(url, c.publicURL+"/"), true
}

// UploadAudio stores synthesized audio and returns a URL vendors can fetch.
func (c *Client) UploadAudio(ctx context.Context, data []byte, mimeType string) (string, error) {
	key := AudioKey(time.Now(), uuid.New(), mimeType)
	if err := c.Upload(ctx, key, data, mimeType); err != nil {
		return "", err
	}
	if url := c.PublicURL(key); url != "" {
		return url, nil
	}
	return c.GeneratePresignedURL(ctx, key, presignExpiry)
}

// Upload uploads data to S3. Content-Length is always sent; R2 requires it.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().
		Str("bucket", c.bucket).
		Str("key", key).
		Int("size_bytes", len(data)).
		Msg("File uploaded to S3")

	return nil
}

// GeneratePresignedURL generates a presigned URL for downloading an object
func (c *Client) GeneratePresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return req.URL, nil
}

// Delete deletes an object from S3
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	log.Info().
		Str("bucket", c.bucket).
		Str("key", key).
		Msg("File deleted from S3")

	return nil
}

// DeleteURL removes the object behind a URL produced by this client.
// URLs pointing elsewhere are ignored.
func (c *Client) DeleteURL(ctx context.Context, url string) error {
	key, ok := c.KeyFromURL(url)
	if !ok {
		return nil
	}
	return c.Delete(ctx, key)
}

func extension(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/wav"), strings.HasPrefix(mimeType, "audio/x-wav"):
		return ".wav"
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	}
	return ".bin"
}
