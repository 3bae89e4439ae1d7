package acquisition

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/semantic/internal/semerr"
)

var testMagic = []byte("GGUF")

func rangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}

		var start int
		_, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &start)
		require.NoError(t, err)
		if start >= len(body) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		remaining := body[start:]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(body)-1, len(body)))
		w.Header().Set("Content-Length", strconv.Itoa(len(remaining)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(remaining)
	}))
}

func TestStartDownload_FullFile(t *testing.T) {
	body := append([]byte{}, testMagic...)
	body = append(body, make([]byte, 100)...)
	srv := rangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "model.gguf")
	d := New(Config{URL: srv.URL, TargetPath: target, MinModelSize: 1, GGUFMagic: testMagic}, zerolog.Nop())

	done := make(chan struct{})
	err := d.StartDownload(context.Background(), func(f float64) {})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := d.Status()
		if !st.Downloading {
			close(done)
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	<-done

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestStartDownload_AlreadyDownloading(t *testing.T) {
	body := make([]byte, 10)
	srv := rangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "model.gguf")
	d := New(Config{URL: srv.URL, TargetPath: target, MinModelSize: 1, GGUFMagic: testMagic}, zerolog.Nop())

	d.mu.Lock()
	d.inFlight = true
	d.mu.Unlock()

	err := d.StartDownload(context.Background(), nil)
	kind, ok := semerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, semerr.KindAlreadyDownloading, kind)
}

func TestCancelDownload_LeavesPartialFile(t *testing.T) {
	blocker := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blocker
	}))
	defer srv.Close()
	defer close(blocker)

	dir := t.TempDir()
	target := filepath.Join(dir, "model.gguf")
	d := New(Config{URL: srv.URL, TargetPath: target, MinModelSize: 1, GGUFMagic: testMagic}, zerolog.Nop())

	require.NoError(t, d.StartDownload(context.Background(), nil))
	time.Sleep(50 * time.Millisecond)
	d.CancelDownload()

	require.Eventually(t, func() bool {
		return !d.Status().Downloading
	}, 2*time.Second, 10*time.Millisecond)

	_, err := os.Stat(target)
	assert.NoError(t, err, "partial file should still exist after cancellation")
}

func TestCheckIntegrity_MissingFile(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{TargetPath: filepath.Join(dir, "missing.gguf"), MinModelSize: 1, GGUFMagic: testMagic}, zerolog.Nop())

	err := d.CheckIntegrity()
	kind, ok := semerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, semerr.KindModelMissing, kind)
}

func TestCheckIntegrity_TooSmall_Quarantines(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	d := New(Config{TargetPath: target, MinModelSize: 1000, GGUFMagic: testMagic}, zerolog.Nop())
	err := d.CheckIntegrity()
	kind, ok := semerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, semerr.KindModelCorrupt, kind)

	_, statErr := os.Stat(target + ".corrupt")
	assert.NoError(t, statErr, "corrupt file should be renamed to .corrupt sidecar, not deleted")
	_, origErr := os.Stat(target)
	assert.Error(t, origErr, "original path should no longer exist")
}

func TestCheckIntegrity_BadMagic_Quarantines(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(target, []byte("NOTGGUFDATAAAAAAAAAA"), 0644))

	d := New(Config{TargetPath: target, MinModelSize: 1, GGUFMagic: testMagic}, zerolog.Nop())
	err := d.CheckIntegrity()
	kind, ok := semerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, semerr.KindModelCorrupt, kind)
}

func TestCheckIntegrity_Valid(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.gguf")
	body := append([]byte{}, testMagic...)
	body = append(body, make([]byte, 100)...)
	require.NoError(t, os.WriteFile(target, body, 0644))

	d := New(Config{TargetPath: target, MinModelSize: 1, GGUFMagic: testMagic}, zerolog.Nop())
	assert.NoError(t, d.CheckIntegrity())
}

func TestManualInfo(t *testing.T) {
	d := New(Config{URL: "https://example.com/model.gguf", TargetPath: "/data/model.gguf", Filename: "model.gguf"}, zerolog.Nop())
	info := d.ManualInfo()
	assert.Equal(t, "https://example.com/model.gguf", info.URL)
	assert.Equal(t, "/data/model.gguf", info.TargetPath)
}

func TestWriteManualInfoSidecar(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{URL: "https://example.com/model.gguf", TargetPath: "/data/model.gguf", Filename: "model.gguf"}, zerolog.Nop())

	sidecar := filepath.Join(dir, "download-info.yaml")
	require.NoError(t, d.WriteManualInfoSidecar(sidecar))

	data, err := os.ReadFile(sidecar)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "example.com"))
}
