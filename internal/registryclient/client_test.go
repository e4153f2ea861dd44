package registryclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velo-pm/velo/internal/verrors"
)

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestDownloadSucceedsAndVerifiesChecksum(t *testing.T) {
	body := "bottle archive contents"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tree.tar.gz")
	c := New(nil)
	err := c.Download(context.Background(), "tree", srv.URL, dest, sha256Hex(body), nil)
	require.NoError(t, err)
}

func TestDownloadChecksumMismatchNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("wrong contents"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tree.tar.gz")
	c := New(nil)
	err := c.Download(context.Background(), "tree", srv.URL, dest, sha256Hex("expected contents"), nil)
	require.Error(t, err)
	assert.True(t, verrors.Is(err, verrors.KindChecksumMismatch))
	assert.Equal(t, 1, calls, "checksum mismatch must not be retried")
}

func TestDownloadAccessDeniedNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tree.tar.gz")
	c := New(nil)
	err := c.Download(context.Background(), "tree", srv.URL, dest, "whatever", nil)
	require.Error(t, err)
	assert.True(t, verrors.Is(err, verrors.KindAccessDenied))
	assert.Equal(t, 1, calls)
}

func TestDownloadAllAggregatesPerItemResults(t *testing.T) {
	goodBody := "ok"
	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(goodBody))
	}))
	defer goodSrv.Close()

	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer badSrv.Close()

	dir := t.TempDir()
	c := New(nil)
	results := c.DownloadAll(context.Background(), []Item{
		{Name: "good", URL: goodSrv.URL, DestPath: filepath.Join(dir, "good"), ExpectedSHA256: sha256Hex(goodBody)},
		{Name: "bad", URL: badSrv.URL, DestPath: filepath.Join(dir, "bad"), ExpectedSHA256: "whatever"},
	}, nil)

	require.Len(t, results, 2)
	assert.NoError(t, results["good"].Err)
	assert.Error(t, results["bad"].Err)
}
