package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/num-err/smartscan/monitoring"
	"github.com/num-err/smartscan/v1/models"
)

// S3Scheme prefixes image references served from object storage
const S3Scheme = "s3://"

// ImageLoader resolves an image reference from a bulk entry into photo bytes
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// readLimited reads at most maxBytes, failing with a validation error past that
func readLimited(r io.Reader, maxBytes int64, ref string) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, models.NewValidationError("image %s exceeds %d bytes", ref, maxBytes)
	}
	return data, nil
}

// DecodeImageData decodes a base64 photo, accepting an optional data URL prefix
func DecodeImageData(data string, maxBytes int64) ([]byte, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	if data == "" {
		return nil, models.NewValidationError("imageData is empty")
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return nil, models.NewValidationError("imageData is not valid base64")
		}
	}
	if maxBytes > 0 && int64(len(decoded)) > maxBytes {
		return nil, models.NewValidationError("image exceeds %d bytes", maxBytes)
	}
	return decoded, nil
}

// FileLoader reads images from the local filesystem.
// When BaseDir is set, references are resolved inside it and may not escape it.
type FileLoader struct {
	BaseDir  string
	MaxBytes int64
}

// Load reads the file named by ref
func (l *FileLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewValidationError("image not found: %s", ref)
		}
		return nil, fmt.Errorf("failed to open image %s: %w", ref, err)
	}
	defer f.Close()

	return readLimited(f, l.MaxBytes, ref)
}

func (l *FileLoader) resolve(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", models.NewValidationError("imagePath is empty")
	}
	if l.BaseDir == "" {
		return filepath.Clean(ref), nil
	}

	base, err := filepath.Abs(l.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve image base dir: %w", err)
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", models.NewValidationError("imagePath %s is outside the image directory", ref)
	}
	return path, nil
}

// ObjectStoreConfig holds the S3-compatible endpoint settings
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// ObjectStoreLoader reads images from S3-compatible storage using s3://bucket/key references
type ObjectStoreLoader struct {
	client   *minio.Client
	MaxBytes int64
}

// NewObjectStoreLoader creates a loader backed by a MinIO client
func NewObjectStoreLoader(cfg ObjectStoreConfig, maxBytes int64) (*ObjectStoreLoader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &ObjectStoreLoader{client: client, MaxBytes: maxBytes}, nil
}

// ParseObjectRef splits s3://bucket/key
func ParseObjectRef(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, S3Scheme) {
		return "", "", models.NewValidationError("not an object reference: %s", ref)
	}
	rest := strings.TrimPrefix(ref, S3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", models.NewValidationError("object reference must be s3://bucket/key: %s", ref)
	}
	return bucket, key, nil
}

// Load fetches the object named by ref
func (l *ObjectStoreLoader) Load(ctx context.Context, ref string) (data []byte, err error) {
	bucket, key, err := ParseObjectRef(ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		monitoring.RecordExternalCall("s3", "get_object", time.Since(start), err)
	}()

	obj, err := l.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", ref, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchBucket":
			return nil, models.NewValidationError("image not found: %s", ref)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", ref, err)
	}
	if l.MaxBytes > 0 && info.Size > l.MaxBytes {
		return nil, models.NewValidationError("image %s exceeds %d bytes", ref, l.MaxBytes)
	}

	return readLimited(obj, l.MaxBytes, ref)
}

// RoutingLoader sends s3:// references to Objects and everything else to Files
type RoutingLoader struct {
	Files   ImageLoader
	Objects ImageLoader
}

// Load dispatches on the reference scheme
func (l *RoutingLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, S3Scheme) {
		if l.Objects == nil {
			return nil, models.NewValidationError("object storage is not configured for %s", ref)
		}
		return l.Objects.Load(ctx, ref)
	}
	if l.Files == nil {
		return nil, models.NewValidationError("file images are not enabled")
	}
	return l.Files.Load(ctx, ref)
}

// StaticLoader serves images from memory. Used in tests and for preloaded fixtures.
type StaticLoader map[string][]byte

// Load returns a copy of the stored bytes
func (l StaticLoader) Load(_ context.Context, ref string) ([]byte, error) {
	data, ok := l[ref]
	if !ok {
		return nil, models.NewValidationError("image not found: %s", ref)
	}
	return bytes.Clone(data), nil
}
