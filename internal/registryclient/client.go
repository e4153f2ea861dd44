// Package registryclient implements C6: fetching bottles from a
// content-addressed registry (GHCR-shaped: https://<host>/v2/<ns>/<path>/
// blobs/sha256:<hex>) with integrity verification, retries, and bounded
// parallel scheduling.
package registryclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/velo-pm/velo/internal/config"
	"github.com/velo-pm/velo/internal/verrors"
	"github.com/velo-pm/velo/internal/vlog"
)

// Progress receives byte-level download progress. Implementations must
// be safe for concurrent use across DownloadAll's workers.
type Progress interface {
	Report(name string, bytesRead, total int64)
}

// noopProgress discards progress reports.
type noopProgress struct{}

func (noopProgress) Report(string, int64, int64) {}

// maxRetries is the number of additional attempts after the first.
const maxRetries = 2

// backoff is the exponential backoff schedule: 1s, 2s.
var backoff = []time.Duration{1 * time.Second, 2 * time.Second}

// Client downloads bottles over HTTP with retry/backoff and SHA-256
// verification.
type Client struct {
	httpClient *http.Client
	log        vlog.Logger
}

// New constructs a Client with a hardened transport, grounded on the
// teacher's ghcrHTTPClient: bounded dial/TLS/header timeouts plus the
// configurable overall request timeout.
func New(log vlog.Logger) *Client {
	if log == nil {
		log = vlog.NewNoop()
	}
	return &Client{
		log: log,
		httpClient: &http.Client{
			Timeout: config.GetAPITimeout(),
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// Download fetches url to destPath, verifying the stream's SHA-256
// digest equals expectedSHA256. On success destPath is a complete file.
// Partial files are always discarded on failure. 401/403/404 responses
// are classified as KindAccessDenied and never retried; other transport
// errors are retried with backoff.
func (c *Client) Download(ctx context.Context, name, url, destPath, expectedSHA256 string, progress Progress) error {
	if progress == nil {
		progress = noopProgress{}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff[attempt-1]):
			}
			c.log.Info("retrying bottle download", "name", name, "attempt", attempt)
		}

		err := c.attemptDownload(ctx, name, url, destPath, expectedSHA256, progress)
		if err == nil {
			return nil
		}

		if verrors.Is(err, verrors.KindAccessDenied) || verrors.Is(err, verrors.KindChecksumMismatch) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

func (c *Client) attemptDownload(ctx context.Context, name, url, destPath, expectedSHA256 string, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return verrors.Wrap(err, "download", name, "failed to build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return verrors.Wrap(err, "download", name, "request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return verrors.New(verrors.KindAccessDenied, "download", name,
			fmt.Sprintf("bottle not accessible: registry returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return verrors.New(verrors.KindNetwork, "download", name,
			fmt.Sprintf("registry returned status %d", resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return verrors.Wrap(err, "download", name, "create destination directory")
	}

	tmp := destPath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return verrors.Wrap(err, "download", name, "create temp file")
	}

	hasher := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(f, hasher), &progressReader{r: resp.Body, name: name, total: resp.ContentLength, progress: progress})
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr != nil {
			return verrors.Wrap(copyErr, "download", name, "stream failed")
		}
		return verrors.Wrap(closeErr, "download", name, "close temp file")
	}
	_ = written

	digest := hex.EncodeToString(hasher.Sum(nil))
	if digest != expectedSHA256 {
		os.Remove(tmp)
		return verrors.New(verrors.KindChecksumMismatch, "download", name,
			fmt.Sprintf("sha256 mismatch: got %s want %s", digest, expectedSHA256))
	}

	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return verrors.Wrap(err, "download", name, "finalize download")
	}

	return nil
}

type progressReader struct {
	r        io.Reader
	name     string
	total    int64
	read     int64
	progress Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.progress.Report(p.name, p.read, p.total)
	}
	return n, err
}

// Item is one bottle to fetch in a DownloadAll batch.
type Item struct {
	Name            string
	URL             string
	DestPath        string
	ExpectedSHA256  string
}

// Result is the outcome of one Item's download.
type Result struct {
	Err error
}

// DownloadAll runs up to K concurrent downloads (K = config's download
// concurrency, >= 4 by default). A single item's failure does not abort
// its siblings.
func (c *Client) DownloadAll(ctx context.Context, items []Item, progress Progress) map[string]Result {
	results := make(map[string]Result, len(items))

	resultsCh := make(chan struct {
		name string
		res  Result
	}, len(items))

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(config.GetDownloadConcurrency())

	for _, item := range items {
		item := item
		g.Go(func() error {
			// Respect the outer ctx for cancellation without letting one
			// item's error cancel its siblings' in-flight transfers.
			select {
			case <-ctx.Done():
				resultsCh <- struct {
					name string
					res  Result
				}{item.Name, Result{Err: ctx.Err()}}
				return nil
			default:
			}
			err := c.Download(gctx, item.Name, item.URL, item.DestPath, item.ExpectedSHA256, progress)
			resultsCh <- struct {
				name string
				res  Result
			}{item.Name, Result{Err: err}}
			return nil
		})
	}

	_ = g.Wait()
	close(resultsCh)
	for r := range resultsCh {
		results[r.name] = r.res
	}
	return results
}
