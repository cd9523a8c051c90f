package importer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// writeJSONFile writes v as indented JSON with a trailing newline, creating
// parent directories.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// fetcher downloads source documents and remote refs.
type fetcher struct {
	ctx    context.Context
	client *http.Client
}

func newFetcher(ctx context.Context, insecure bool) fetcher {
	client := http.DefaultClient
	if insecure {
		client = &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in flag
		}}
	}
	return fetcher{ctx: ctx, client: client}
}

func (f fetcher) get(src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(f.ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: http %d", src, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
