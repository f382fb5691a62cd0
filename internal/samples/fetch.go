package samples

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxPayload bounds a single sample download.
const DefaultMaxPayload = 32 << 20

// Fetcher returns the raw encoded bytes for a sample identifier.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, id string) ([]byte, error)

func (f FetchFunc) Fetch(ctx context.Context, id string) ([]byte, error) { return f(ctx, id) }

// FileFetcher reads identifiers as paths, relative ones under Root. With a
// Root set, relative identifiers may not leave it.
type FileFetcher struct {
	Root string
}

func (f FileFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.FromSlash(id)
	if !filepath.IsAbs(path) && f.Root != "" {
		if !filepath.IsLocal(path) {
			return nil, fmt.Errorf("sample id %q escapes %s", id, f.Root)
		}
		path = filepath.Join(f.Root, path)
	}
	return os.ReadFile(path)
}

// HTTPFetcher downloads identifiers relative to BaseURL. Identifiers that are
// already absolute URLs, such as signed links, are requested unchanged.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
	Header  http.Header
	// MaxBytes rejects larger bodies; zero means DefaultMaxPayload.
	MaxBytes int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	target, err := f.resolve(id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", target, resp.Status)
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", target, limit)
	}
	return data, nil
}

func (f HTTPFetcher) resolve(id string) (string, error) {
	if isURL(id) {
		return id, nil
	}
	if f.BaseURL == "" {
		return "", errors.New("no base URL for relative sample id")
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	return base.JoinPath(strings.TrimLeft(id, "/")).String(), nil
}

// Router sends URL identifiers to HTTP and everything else to File. A nil
// File routes all identifiers to HTTP.
type Router struct {
	HTTP Fetcher
	File Fetcher
}

func (r Router) Fetch(ctx context.Context, id string) ([]byte, error) {
	if r.File != nil && (!isURL(id) || r.HTTP == nil) {
		return r.File.Fetch(ctx, id)
	}
	if r.HTTP == nil {
		return nil, errors.New("no fetcher configured")
	}
	return r.HTTP.Fetch(ctx, id)
}

func isURL(id string) bool {
	return strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://")
}
