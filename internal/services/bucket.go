package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
)

// BucketService is the object storage surface used by the pipeline.
// Uploads are idempotent by object key; keys follow
// textloom/{task_id}/materials/{filename}.
type BucketService interface {
	UploadFile(ctx context.Context, localPath string, objectKey string) (string, error)
	UploadReader(ctx context.Context, objectKey string, r io.Reader) (string, error)
	DownloadFile(ctx context.Context, objectKey string, localPath string) error
	DeleteFile(ctx context.Context, objectKey string) error
	ListFiles(ctx context.Context, prefix string, max int) ([]string, error)
	FileExists(ctx context.Context, objectKey string) (bool, error)
	GetPublicURL(objectKey string) string

	// IsStoreURL reports whether the URL already lives inside the
	// configured storage namespace; such URLs are registered without a
	// download/re-upload round trip.
	IsStoreURL(url string) bool
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	cdnDomain     string
	publicHosts   []string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	bucket := envutil.String("STORAGE_BUCKET_NAME", "")
	if bucket == "" {
		return nil, fmt.Errorf("missing env var STORAGE_BUCKET_NAME")
	}
	cdnDomain := envutil.String("CDN_DOMAIN", "")
	saPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	if saPath == "" {
		serviceLog.Warn("GOOGLE_APPLICATION_CREDENTIALS_JSON not set, falling back to ADC")
	}
	ctx := context.Background()
	var stClient *storage.Client
	var err error
	if saPath != "" {
		stClient, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		stClient, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	hosts := []string{"storage.googleapis.com/" + bucket}
	if cdnDomain != "" {
		hosts = append(hosts, cdnDomain)
	}
	if extra := envutil.String("STORAGE_PUBLIC_HOST", ""); extra != "" {
		hosts = append(hosts, strings.TrimSuffix(extra, "/")+"/"+bucket)
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucket,
		cdnDomain:     cdnDomain,
		publicHosts:   hosts,
	}, nil
}

func (bs *bucketService) UploadFile(ctx context.Context, localPath string, objectKey string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", localPath, err)
	}
	defer f.Close()
	return bs.UploadReader(ctx, objectKey, f)
}

func (bs *bucketService) UploadReader(ctx context.Context, objectKey string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := bs.storageClient.Bucket(bs.bucketName).Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %q: %w", objectKey, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for %q: %w", objectKey, err)
	}
	return bs.GetPublicURL(objectKey), nil
}

func (bs *bucketService) DownloadFile(ctx context.Context, objectKey string, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	r, err := bs.storageClient.Bucket(bs.bucketName).Object(objectKey).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open object %q: %w", objectKey, err)
	}
	defer r.Close()
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("download object %q: %w", objectKey, err)
	}
	return nil
}

func (bs *bucketService) DeleteFile(ctx context.Context, objectKey string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(bs.bucketName).Object(objectKey).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q: %w", objectKey, err)
	}
	return nil
}

func (bs *bucketService) ListFiles(ctx context.Context, prefix string, max int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if max <= 0 {
		max = 1000
	}
	it := bs.storageClient.Bucket(bs.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for len(keys) < max {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (bs *bucketService) FileExists(ctx context.Context, objectKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := bs.storageClient.Bucket(bs.bucketName).Object(objectKey).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (bs *bucketService) GetPublicURL(objectKey string) string {
	if bs.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", bs.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, objectKey)
}

func (bs *bucketService) IsStoreURL(url string) bool {
	for _, host := range bs.publicHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}
