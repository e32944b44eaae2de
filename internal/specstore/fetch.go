package specstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/platform/s3"
	"github.com/imamik/lxc-compose/internal/util/retry"
)

// Fetcher reads raw files from a library location by store-relative path.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	Location() string
}

// Lister is implemented by fetchers that can enumerate a directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]string, error)
}

// Open returns a fetcher for a directory, an https:// base URL or an
// s3://bucket/prefix location.
func Open(ctx context.Context, location string, s3cfg config.S3Settings) (Fetcher, error) {
	switch {
	case strings.HasPrefix(location, "https://"), strings.HasPrefix(location, "http://"):
		return NewHTTPFetcher(location, nil), nil
	case strings.HasPrefix(location, "s3://"):
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location, "s3://"), "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid library location %q: missing bucket", location)
		}
		client, err := s3.NewClient(ctx, s3cfg.Endpoint, s3cfg.Region, s3cfg.AccessKey, s3cfg.SecretKey)
		if err != nil {
			return nil, err
		}
		ok, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("library bucket %s does not exist", bucket)
		}
		return NewS3Fetcher(client, bucket, prefix), nil
	default:
		info, err := os.Stat(location)
		if err != nil {
			return nil, fmt.Errorf("library directory %s: %w", location, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("library location %s is not a directory", location)
		}
		return &DirFetcher{Root: location}, nil
	}
}

// cleanName rejects paths escaping the library root.
func cleanName(name string) (string, error) {
	clean := path.Clean("/" + name)[1:]
	if clean == "" || strings.HasPrefix(clean, "..") || clean != strings.TrimPrefix(name, "/") {
		return "", fmt.Errorf("invalid library path %q", name)
	}
	return clean, nil
}

// DirFetcher reads from a local directory.
type DirFetcher struct {
	Root string
}

// Fetch implements Fetcher.
func (f *DirFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	// #nosec G304
	data, err := os.ReadFile(filepath.Join(f.Root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", clean, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", clean, err)
	}
	return data, nil
}

// Location implements Fetcher.
func (f *DirFetcher) Location() string { return f.Root }

// List implements Lister.
func (f *DirFetcher) List(_ context.Context, dir string) ([]string, error) {
	clean, err := cleanName(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(f.Root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", clean, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// HTTPFetcher reads from a base URL such as a raw GitHub content path.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	Retry   []retry.Option
}

// NewHTTPFetcher creates a fetcher for baseURL. A nil client gets a 30s timeout.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  client,
		Retry:   []retry.Option{retry.WithMaxRetries(3), retry.WithInitialDelay(500 * time.Millisecond)},
	}
}

// Fetch implements Fetcher. 404 maps to ErrNotFound; other 4xx responses
// are not retried.
func (f *HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	url := f.BaseURL + "/" + clean

	var body []byte
	err = retry.WithExponentialBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Fatal(err)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return retry.Fatal(fmt.Errorf("%s: %w", clean, ErrNotFound))
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Fatal(fmt.Errorf("GET %s: %s", url, resp.Status))
		case resp.StatusCode >= 500:
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", url, err)
		}
		body = data
		return nil
	}, f.Retry...)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Location implements Fetcher.
func (f *HTTPFetcher) Location() string { return f.BaseURL }

// objectGetter is the subset of the S3 client used by S3Fetcher.
type objectGetter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// S3Fetcher reads from a bucket prefix.
type S3Fetcher struct {
	client objectGetter
	bucket string
	prefix string
}

// NewS3Fetcher creates a fetcher for bucket/prefix.
func NewS3Fetcher(client objectGetter, bucket, prefix string) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (f *S3Fetcher) key(name string) string {
	if f.prefix == "" {
		return name
	}
	return f.prefix + "/" + name
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	data, err := f.client.GetObject(ctx, f.bucket, f.key(clean))
	if err != nil {
		if errors.Is(err, s3.ErrNoSuchKey) {
			return nil, fmt.Errorf("%s: %w", clean, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// Location implements Fetcher.
func (f *S3Fetcher) Location() string {
	return "s3://" + path.Join(f.bucket, f.prefix)
}

// List implements Lister.
func (f *S3Fetcher) List(ctx context.Context, dir string) ([]string, error) {
	clean, err := cleanName(dir)
	if err != nil {
		return nil, err
	}
	prefix := f.key(clean) + "/"
	keys, err := f.client.ListObjects(ctx, f.bucket, prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}
