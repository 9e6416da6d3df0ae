// Package fetch retrieves remote guest assets (photos, voice recordings)
// by URL. Google Drive share links produced by Google Forms uploads are
// downloaded through the Drive API when a Drive service is configured, and
// through the public download endpoint otherwise.
package fetch

import (
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
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
)

const (
	defaultTimeout = 2 * time.Minute

	// DefaultMaxBytes caps a single asset download.
	DefaultMaxBytes = 50 << 20
)

var (
	// ErrInvalidRef is returned for empty or non-http(s) references.
	ErrInvalidRef = errors.New("invalid asset reference")

	// ErrTooLarge is returned when an asset exceeds the size cap.
	ErrTooLarge = errors.New("asset exceeds size limit")
)

// StatusError is a non-2xx response from the asset host.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Quota() {
		return fmt.Sprintf("fetch %s: HTTP %d (quota exhausted or access denied)", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// Quota reports whether the status indicates rate limiting or a download
// quota, which Drive reports as 403.
func (e *StatusError) Quota() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusForbidden
}

// Asset is a downloaded file held in memory.
type Asset struct {
	Data        []byte
	ContentType string
	// Ext is a file extension including the dot, derived from the content
	// type or the URL path. Empty when neither is informative.
	Ext string
}

// Fetcher downloads assets.
type Fetcher struct {
	httpClient *http.Client
	drive      *drive.Service
	maxBytes   int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDrive routes Google Drive links through the Drive API.
func WithDrive(svc *drive.Service) Option {
	return func(f *Fetcher) { f.drive = svc }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxBytes:   DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ParseRef validates that ref is an absolute http or https URL.
func ParseRef(ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRef)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidRef, ref)
	}
	return u, nil
}

// Fetch downloads ref into memory.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Asset, error) {
	u, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var asset *Asset
	if id := DriveFileID(u); id != "" {
		asset, err = f.fetchDrive(ctx, id)
	} else {
		asset, err = f.fetchHTTP(ctx, u.String())
	}
	if err != nil {
		return nil, err
	}
	if asset.Ext == "" {
		asset.Ext = extFromPath(u.Path)
	}

	log.Debug().
		Str("host", u.Host).
		Int("bytes", len(asset.Data)).
		Str("contentType", asset.ContentType).
		Dur("elapsed", time.Since(start)).
		Msg("Asset fetched")
	return asset, nil
}

// FetchTo downloads ref and writes it to dir/base plus the derived
// extension, or fallbackExt when none could be derived. It returns the
// written path.
func (f *Fetcher) FetchTo(ctx context.Context, ref, dir, base, fallbackExt string) (string, *Asset, error) {
	asset, err := f.Fetch(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	ext := asset.Ext
	if ext == "" {
		ext = fallbackExt
	}
	dst := filepath.Join(dir, base+ext)
	if err := os.WriteFile(dst, asset.Data, 0o644); err != nil {
		return "", nil, fmt.Errorf("write asset: %w", err)
	}
	return dst, asset, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", redact(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: redact(rawURL), StatusCode: resp.StatusCode}
	}
	return f.readAsset(resp)
}

func (f *Fetcher) fetchDrive(ctx context.Context, id string) (*Asset, error) {
	if f.drive == nil {
		return f.fetchHTTP(ctx, driveDownloadURL(id))
	}
	resp, err := f.drive.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", id, err)
	}
	defer resp.Body.Close()
	return f.readAsset(resp)
}

func (f *Fetcher) readAsset(resp *http.Response) (*Asset, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}
	ct := resp.Header.Get("Content-Type")
	return &Asset{Data: data, ContentType: ct, Ext: extFromContentType(ct)}, nil
}

// DriveFileID extracts the file ID from a Google Drive link, or returns ""
// when u is not a Drive file link. Handles open?id=, uc?id= and /file/d/<id>/.
func DriveFileID(u *url.URL) string {
	host := strings.ToLower(u.Host)
	if host != "drive.google.com" && host != "docs.google.com" {
		return ""
	}
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "d" {
			return parts[i+1]
		}
	}
	return ""
}

func driveDownloadURL(id string) string {
	return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id)
}

var contentTypeExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/bmp":       ".bmp",
	"image/tiff":      ".tiff",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/wave":      ".wav",
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/mp4":       ".m4a",
	"audio/x-m4a":     ".m4a",
	"audio/aac":       ".aac",
	"audio/ogg":       ".ogg",
	"audio/webm":      ".webm",
	"audio/flac":      ".flac",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

func extFromContentType(ct string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	return contentTypeExt[mediaType]
}

func extFromPath(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > 5 {
		return ""
	}
	return ext
}

// redact drops the query string, which may carry signatures.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
