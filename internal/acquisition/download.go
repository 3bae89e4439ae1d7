// Package acquisition implements C5, Model Acquisition: a resumable,
// cancellable HTTP download of the embedding model file plus the integrity
// gate that decides whether a downloaded file is safe to load.
package acquisition

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/clipvault/semantic/internal/semerr"
)

// progressThrottle bounds progress-callback cadence to ~10 Hz (spec.md §4.5).
const progressThrottle = 100 * time.Millisecond

// ManualDownloadInfo is exposed for the UI's manual-download fallback
// (spec.md §4.5, §6).
type ManualDownloadInfo struct {
	URL        string `yaml:"url" json:"url"`
	TargetPath string `yaml:"target_path" json:"target_path"`
	Filename   string `yaml:"filename" json:"filename"`
}

// Status is the acquisition component's contribution to the status
// snapshot (spec.md §3: download_progress ∈ [0,1] ∪ {none}).
type Status struct {
	Downloading bool
	Progress    *float64
	Err         error
}

// Config configures a Downloader.
type Config struct {
	URL          string
	TargetPath   string
	Filename     string
	MinModelSize int64
	GGUFMagic    []byte
}

// Downloader is C5. At most one download runs at a time; a second
// StartDownload while one is active returns AlreadyDownloading.
type Downloader struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger

	mu         sync.Mutex
	inFlight   bool
	progress   *float64
	lastErr    error
	cancelFunc context.CancelFunc
}

// New creates a Downloader bound to cfg.
func New(cfg Config, log zerolog.Logger) *Downloader {
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: 0}, // large files: no overall deadline, rely on cancellation
		log:    log.With().Str("component", "model_acquisition").Logger(),
	}
}

// ManualInfo returns the {url, target_path, filename} triple for the UI's
// manual-download flow (spec.md §4.5).
func (d *Downloader) ManualInfo() ManualDownloadInfo {
	return ManualDownloadInfo{URL: d.cfg.URL, TargetPath: d.cfg.TargetPath, Filename: d.cfg.Filename}
}

// WriteManualInfoSidecar writes ManualInfo() as a human-readable YAML file
// next to the model's target directory, for operators who download the
// model out-of-band and want to double check url/path/filename.
func (d *Downloader) WriteManualInfoSidecar(path string) error {
	data, err := yaml.Marshal(d.ManualInfo())
	if err != nil {
		return fmt.Errorf("marshal manual download info: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manual download info: %w", err)
	}
	return nil
}

// Status reports current download state for the orchestrator's snapshot.
func (d *Downloader) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Downloading: d.inFlight, Progress: d.progress, Err: d.lastErr}
}

// StartDownload begins (or resumes) downloading the model in a new
// goroutine, reporting progress through onProgress (throttled to ~10 Hz).
// Returns AlreadyDownloading if a download is already active.
func (d *Downloader) StartDownload(ctx context.Context, onProgress func(fraction float64)) error {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return semerr.New(semerr.KindAlreadyDownloading, "")
	}
	downloadCtx, cancel := context.WithCancel(ctx)
	d.inFlight = true
	d.lastErr = nil
	d.cancelFunc = cancel
	d.mu.Unlock()

	sessionID := uuid.NewString()
	d.log.Info().Str("session_id", sessionID).Str("url", d.cfg.URL).Msg("starting model download")
	go d.run(downloadCtx, sessionID, onProgress)
	return nil
}

// CancelDownload cancels the in-flight download, if any. The partial file
// is left at TargetPath for a future resume (spec.md §4.5).
func (d *Downloader) CancelDownload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelFunc != nil {
		d.cancelFunc()
	}
}

func (d *Downloader) run(ctx context.Context, sessionID string, onProgress func(fraction float64)) {
	err := d.download(ctx, onProgress)

	d.mu.Lock()
	d.inFlight = false
	d.cancelFunc = nil
	d.progress = nil
	if err != nil && ctx.Err() == nil {
		d.lastErr = err
	}
	d.mu.Unlock()

	log := d.log.With().Str("session_id", sessionID).Logger()
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("download cancelled, partial file retained")
		} else {
			log.Error().Err(err).Msg("download failed")
		}
		return
	}
	log.Info().Msg("download completed")
}

// download performs the resumable HTTP GET. On any prior partial file it
// attempts a Range request. A 206 response is appended to the partial file;
// a 200 response (range ignored by the server) restarts from zero; any other
// status fails the download with DownloadFailed.
func (d *Downloader) download(ctx context.Context, onProgress func(fraction float64)) error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.TargetPath), 0755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	var resumeFrom int64
	if info, err := os.Stat(d.cfg.TargetPath); err == nil {
		resumeFrom = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		return semerr.Wrap(semerr.KindDownloadFailed, err)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return semerr.Wrap(semerr.KindDownloadFailed, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		resumeFrom = 0
		flags |= os.O_TRUNC
	default:
		return semerr.New(semerr.KindDownloadFailed, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	total := resp.ContentLength + resumeFrom
	f, err := os.OpenFile(d.cfg.TargetPath, flags, 0644)
	if err != nil {
		return semerr.Wrap(semerr.KindDownloadFailed, err)
	}
	defer f.Close()

	written := resumeFrom
	lastReport := time.Time{}
	buf := make([]byte, 256*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return semerr.Wrap(semerr.KindDownloadFailed, writeErr)
			}
			written += int64(n)

			if total > 0 {
				now := time.Now()
				if now.Sub(lastReport) >= progressThrottle {
					fraction := float64(written) / float64(total)
					d.mu.Lock()
					d.progress = &fraction
					d.mu.Unlock()
					if onProgress != nil {
						onProgress(fraction)
					}
					lastReport = now
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return semerr.Wrap(semerr.KindDownloadFailed, readErr)
		}
	}

	if onProgress != nil {
		onProgress(1.0)
	}
	return nil
}

// CheckIntegrity implements the integrity gate: exists, size, magic sniff
// (spec.md §4.5). On failure it renames the file to a .corrupt sidecar
// rather than deleting it.
func (d *Downloader) CheckIntegrity() error {
	info, err := os.Stat(d.cfg.TargetPath)
	if err != nil {
		return semerr.Wrap(semerr.KindModelMissing, err)
	}

	if info.Size() < d.cfg.MinModelSize {
		return d.quarantine(semerr.New(semerr.KindModelCorrupt, "file smaller than MIN_MODEL_SIZE"))
	}

	f, err := os.Open(d.cfg.TargetPath)
	if err != nil {
		return semerr.Wrap(semerr.KindModelMissing, err)
	}
	defer f.Close()

	header := make([]byte, len(d.cfg.GGUFMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return d.quarantine(semerr.Wrap(semerr.KindModelCorrupt, err))
	}
	for i, b := range d.cfg.GGUFMagic {
		if header[i] != b {
			return d.quarantine(semerr.New(semerr.KindModelCorrupt, "magic mismatch"))
		}
	}
	return nil
}

// quarantine renames TargetPath to a .corrupt sidecar and returns origErr.
func (d *Downloader) quarantine(origErr error) error {
	corruptPath := d.cfg.TargetPath + ".corrupt"
	if err := os.Rename(d.cfg.TargetPath, corruptPath); err != nil {
		d.log.Warn().Err(err).Msg("failed to quarantine corrupt model file")
	} else {
		d.log.Warn().Str("path", corruptPath).Msg("quarantined corrupt model file")
	}
	return origErr
}
