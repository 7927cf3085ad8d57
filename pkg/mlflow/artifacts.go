package mlflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrArtifactNotFound is returned by Download when the artifact does not
// exist in the repository.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactRepository reads and writes files below one artifact root, such as
// a run's artifact_uri or a model version's download uri.
type ArtifactRepository interface {
	Upload(ctx context.Context, relPath string, data []byte) error
	Download(ctx context.Context, relPath string) ([]byte, error)
}

// ArtifactRepository returns the repository for uri, chosen by scheme:
// mlflow-artifacts: goes through the tracking server proxy, http(s) is read
// and written directly, s3 uses the configured object store and file or a
// bare path uses the local filesystem.
func (c *Client) ArtifactRepository(uri string) (ArtifactRepository, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "mlflow-artifacts":
		base := c.baseURL.String()
		if u.Host != "" {
			base = c.baseURL.Scheme + "://" + u.Host
		}
		root, err := url.JoinPath(base, "/api/2.0/mlflow-artifacts/artifacts", u.Path)
		if err != nil {
			return nil, fmt.Errorf("invalid artifact uri %q: %w", uri, err)
		}
		return &httpRepository{root: root, http: c.http}, nil

	case "http", "https":
		return &httpRepository{root: strings.TrimRight(uri, "/"), http: c.http}, nil

	case "s3":
		return newS3Repository(c.s3, u.Host, strings.Trim(u.Path, "/"))

	case "file":
		return &fileRepository{root: u.Path}, nil

	case "":
		return &fileRepository{root: uri}, nil

	default:
		return nil, fmt.Errorf("unsupported artifact uri scheme %q", u.Scheme)
	}
}

type httpRepository struct {
	root string
	http *http.Client
}

func (r *httpRepository) url(relPath string) (string, error) {
	return url.JoinPath(r.root, relPath)
}

func (r *httpRepository) Upload(ctx context.Context, relPath string, data []byte) error {
	u, err := r.url(relPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", relPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload %s: %w", relPath, parseAPIError(resp.StatusCode, body))
	}
	return nil
}

func (r *httpRepository) Download(ctx context.Context, relPath string) ([]byte, error) {
	u, err := r.url(relPath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", relPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("download %s: %w", relPath, ErrArtifactNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("download %s: %w", relPath, parseAPIError(resp.StatusCode, body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", relPath, err)
	}
	return data, nil
}

type fileRepository struct {
	root string
}

func (r *fileRepository) path(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the repository root", relPath)
	}
	return filepath.Join(r.root, clean), nil
}

func (r *fileRepository) Upload(_ context.Context, relPath string, data []byte) error {
	p, err := r.path(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("upload %s: %w", relPath, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("upload %s: %w", relPath, err)
	}
	return nil
}

func (r *fileRepository) Download(_ context.Context, relPath string) ([]byte, error) {
	p, err := r.path(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("download %s: %w", relPath, ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", relPath, err)
	}
	return data, nil
}

type s3Repository struct {
	client *minio.Client
	bucket string
	prefix string
}

func newS3Repository(cfg S3Config, bucket, prefix string) (*s3Repository, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint is required for s3:// artifact uris (set MLFLOW_S3_ENDPOINT_URL)")
	}
	if bucket == "" {
		return nil, errors.New("s3 artifact uri has no bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &s3Repository{client: client, bucket: bucket, prefix: prefix}, nil
}

func (r *s3Repository) key(relPath string) string {
	return path.Join(r.prefix, relPath)
}

func (r *s3Repository) Upload(ctx context.Context, relPath string, data []byte) error {
	_, err := r.client.PutObject(ctx, r.bucket, r.key(relPath), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", r.bucket, r.key(relPath), err)
	}
	return nil
}

func (r *s3Repository) Download(ctx context.Context, relPath string) ([]byte, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, r.key(relPath), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download s3://%s/%s: %w", r.bucket, r.key(relPath), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("download s3://%s/%s: %w", r.bucket, r.key(relPath), ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("download s3://%s/%s: %w", r.bucket, r.key(relPath), err)
	}
	return data, nil
}

// ParseS3Endpoint converts an endpoint URL such as http://minio:9000 into the
// host:port and TLS flag used by S3Config. A bare host:port is accepted and
// treated as plain HTTP.
func ParseS3Endpoint(raw string) (endpoint string, useSSL bool, err error) {
	if raw == "" {
		return "", false, nil
	}
	if !strings.Contains(raw, "://") {
		return raw, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid s3 endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("invalid s3 endpoint %q: scheme must be http or https", raw)
	}
}
