package printjob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultMaxDownload bounds documents fetched by URL.
const DefaultMaxDownload = 64 << 20

// ErrTooLarge is returned when a fetched document exceeds the limit.
var ErrTooLarge = errors.New("document exceeds size limit")

// Fetcher downloads documents referenced by URL.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewFetcher returns a Fetcher with a bounded timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Fetcher{Client: &http.Client{Timeout: timeout}, MaxBytes: DefaultMaxDownload}
}

// Fetch downloads rawURL and returns the body and the file name taken from
// the URL path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("unsupported file url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxDownload
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, "", ErrTooLarge
	}
	return body, path.Base(u.Path), nil
}

// DecodeContent decodes base64 document content, tolerating a data URL
// prefix and embedded whitespace.
func DecodeContent(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err2 := base64.RawStdEncoding.DecodeString(s); err2 == nil {
			return data, nil
		}
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return data, nil
}
