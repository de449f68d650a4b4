package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"

	"mcpforge/internal/coordinator"
	"mcpforge/internal/forge"
)

const (
	manifestFileName = "manifest.json"
	artifactPrefix   = "artifact"
	historyPrefix    = "history"
	defaultRegion    = "us-east-1"
)

// Config locates the bucket archives are written to.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	DisableTLS     bool
	ForcePathStyle bool
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sink archives the final artifact and failure history of every query that
// produced an artifact as a tar.zst object.
type Sink struct {
	api    objectPutter
	bucket string
	prefix string
	log    *slog.Logger
}

var _ coordinator.ResultSink = (*Sink)(nil)

// New builds an S3 client for cfg. Endpoint may be a bare host:port.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("archive bucket is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("archive endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("archive access key and secret key are required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "https"
		if cfg.DisableTLS {
			scheme = "http"
		}
		endpoint = scheme + "://" + endpoint
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})
	return newSink(client, cfg.Bucket, cfg.Prefix), nil
}

func newSink(api objectPutter, bucket, prefix string) *Sink {
	return &Sink{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    slog.With("component", "archive"),
	}
}

// Key is the object key for a result: <prefix>/<name>/<query id>.tar.zst.
func (s *Sink) Key(res coordinator.Result) string {
	name := forge.SanitizeName(res.Name)
	return path.Join(s.prefix, name, res.QueryID+".tar.zst")
}

func (s *Sink) Publish(ctx context.Context, res coordinator.Result) error {
	if res.Artifact.IsZero() {
		return nil
	}
	body, err := Bundle(res)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	checksum := base64.StdEncoding.EncodeToString(sum[:])
	key := s.Key(res)
	size := int64(len(body))

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(body),
		ContentLength:     aws.Int64(size),
		ContentType:       aws.String("application/zstd"),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(checksum),
		Metadata: map[string]string{
			"query-id": res.QueryID,
			"status":   coordinator.NewResponse(res).Status,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	s.log.Debug("result archived", "key", key, "bytes", size)
	return nil
}

// Bundle writes the result's response as manifest.json, the final artifact
// under artifact/ and each failed attempt under history/attempt-N/ into a
// zstd-compressed tar.
func Bundle(res coordinator.Result) ([]byte, error) {
	manifest, err := json.MarshalIndent(coordinator.NewResponse(res), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)
	modTime := time.Now().UTC()

	if err := writeFile(tw, manifestFileName, manifest, 0o644, modTime); err != nil {
		return nil, err
	}
	if err := writeArtifact(tw, artifactPrefix, res.Artifact, modTime); err != nil {
		return nil, err
	}
	for _, rec := range res.History {
		dir := path.Join(historyPrefix, fmt.Sprintf("attempt-%d", rec.AttemptNumber))
		if err := writeArtifact(tw, path.Join(dir, artifactPrefix), rec.Artifact, modTime); err != nil {
			return nil, err
		}
		if err := writeFile(tw, path.Join(dir, "logs.txt"), []byte(rec.Logs), 0o644, modTime); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close zstd: %w", err)
	}
	return buf.Bytes(), nil
}

func writeArtifact(tw *tar.Writer, dir string, art forge.Artifact, modTime time.Time) error {
	if art.Kind() == forge.ArtifactScript {
		return writeFile(tw, path.Join(dir, "script"), []byte(art.Script), 0o755, modTime)
	}
	for _, p := range art.Paths() {
		mode := int64(0o644)
		if forge.IsExecutablePath(p) {
			mode = 0o755
		}
		if err := writeFile(tw, path.Join(dir, p), []byte(art.Files[p]), mode, modTime); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(tw *tar.Writer, name string, data []byte, mode int64, modTime time.Time) error {
	header := &tar.Header{
		Name:     name,
		Mode:     mode,
		Size:     int64(len(data)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	return nil
}
