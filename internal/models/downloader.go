package models

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"deepfrog/internal/httpclient"
	"deepfrog/internal/logger"
	"deepfrog/internal/pipeline"
)

const DefaultHubEndpoint = "https://huggingface.co"

type Progress struct {
	File       string
	Downloaded int64
	Total      int64
	SpeedMBps  float64
	ETA        time.Duration
}

type ProgressCallback func(Progress)

// FileGroup is one required (or optional) file of an install, given as
// alternatives tried in order.
type FileGroup struct {
	Alternatives []string
	Optional     bool
}

// StatusError is a non-200 answer to a download.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: status %d", e.URL, e.Code)
}

// Downloader fetches model files. Installs through one Downloader run one
// at a time.
type Downloader struct {
	Client      *retryablehttp.Client
	HubEndpoint string
	Token       string

	mu  sync.Mutex
	log *logrus.Logger
}

func NewDownloader() *Downloader {
	return &Downloader{
		Client:      httpclient.New(httpclient.Options{RetryMax: 2, RetryWaitMin: 500 * time.Millisecond}),
		HubEndpoint: DefaultHubEndpoint,
		log:         logger.GetLogger(),
	}
}

// DownloadAndInstall installs a packaged archive of model into
// <root>/<org--name>/<revision> and returns that directory.
func (d *Downloader) DownloadAndInstall(ctx context.Context, model ModelSpec, root, revision string, onProgress ProgressCallback) (string, error) {
	if model.Archive == nil || model.Archive.URL == "" {
		return "", fmt.Errorf("model %s has no archive", model.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	tmpDir, err := os.MkdirTemp(root, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, "model.tar.gz")
	if err := d.download(ctx, model.Archive.URL, archivePath, "model.tar.gz", onProgress); err != nil {
		return "", pipeline.NewResolutionError(model.ID, err)
	}
	if err := VerifyChecksum(archivePath, model.Archive.Checksum); err != nil {
		return "", err
	}

	extractDir := filepath.Join(tmpDir, "extract")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", err
	}
	if err := ExtractTarGz(archivePath, extractDir); err != nil {
		return "", err
	}
	if err := ValidateModelDir(extractDir); err != nil {
		return "", pipeline.NewLoadError(model.ID, err)
	}
	if err := writeMarker(extractDir, []string{model.Archive.URL, model.Archive.Checksum}); err != nil {
		return "", err
	}

	finalPath := ModelInstallPath(root, model.ID, revision)
	if err := replaceDir(extractDir, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

// InstallFromHub fetches files of repository id at revision into dest. A
// required group with no downloadable alternative is a resolution failure.
func (d *Downloader) InstallFromHub(ctx context.Context, id, revision, dest string, groups []FileGroup, onProgress ProgressCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp(parent, ".download-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	var sources []string
	for _, g := range groups {
		got := ""
		for _, file := range g.Alternatives {
			src := d.fileURL(id, revision, file)
			target := filepath.Join(tmpDir, filepath.FromSlash(file))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			err := d.download(ctx, src, target, file, onProgress)
			if err == nil {
				got = file
				sources = append(sources, src)
				break
			}
			_ = os.Remove(target)
			var se *StatusError
			if errors.As(err, &se) && se.Code == http.StatusNotFound {
				d.log.WithFields(logrus.Fields{"model": id, "file": file}).Debug("not in repository")
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return pipeline.NewResolutionError(id, err)
		}
		if got == "" && !g.Optional {
			return pipeline.NewResolutionError(id,
				fmt.Errorf("%s not found at revision %q", strings.Join(g.Alternatives, " or "), revision))
		}
	}
	if err := writeMarker(tmpDir, sources); err != nil {
		return err
	}
	return replaceDir(tmpDir, dest)
}

func (d *Downloader) fileURL(id, revision, file string) string {
	hub := strings.TrimRight(d.HubEndpoint, "/")
	if hub == "" {
		hub = DefaultHubEndpoint
	}
	return hub + "/" + strings.Trim(id, "/") + "/resolve/" + url.PathEscape(revision) + "/" + file
}

func (d *Downloader) download(ctx context.Context, src, dest, name string, onProgress ProgressCallback) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: src, Code: resp.StatusCode}
	}

	buf := make([]byte, 32*1024)
	start := time.Now()
	var downloaded int64
	total := resp.ContentLength
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			downloaded += int64(n)
			if onProgress != nil {
				elapsed := time.Since(start).Seconds()
				speed := 0.0
				if elapsed > 0 {
					speed = float64(downloaded) / elapsed / 1024 / 1024
				}
				eta := time.Duration(0)
				if total > 0 && speed > 0 {
					remainingMB := float64(total-downloaded) / 1024 / 1024
					eta = time.Duration(remainingMB / speed * float64(time.Second))
				}
				onProgress(Progress{File: name, Downloaded: downloaded, Total: total, SpeedMBps: speed, ETA: eta})
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	return out.Sync()
}

// replaceDir moves src into place at dest, keeping the previous install
// until the rename succeeds.
func replaceDir(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	oldPath := dest + ".bak"
	_ = os.RemoveAll(oldPath)
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, oldPath); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dest); err != nil {
		_ = os.Rename(oldPath, dest)
		return err
	}
	_ = os.RemoveAll(oldPath)
	return nil
}

func VerifyChecksum(file, expected string) error {
	if strings.TrimSpace(expected) == "" {
		return errors.New("checksum missing")
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := "sha256:" + hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// ExtractTarGz unpacks regular files and directories, skipping entries that
// would land outside dest.
func ExtractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		clean := filepath.Clean(hdr.Name)
		clean = strings.TrimPrefix(clean, "./")
		if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
			continue
		}
		target := filepath.Join(dest, clean)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

var requiredModelFiles = [][]string{
	{"model.onnx", filepath.Join("onnx", "model.onnx")},
	{"config.json", "labels.json"},
	{"tokenizer.json", "vocab.txt"},
}

func hasModelFiles(dir string) bool {
	for _, alts := range requiredModelFiles {
		found := false
		for _, f := range alts {
			if _, err := os.Stat(filepath.Join(dir, f)); err == nil {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ValidateModelDir checks base, or a single directory nested in it, for a
// graph, a label map and a tokenizer. Nested content is moved up into base.
func ValidateModelDir(base string) error {
	if hasModelFiles(base) {
		return nil
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		nested := filepath.Join(base, e.Name())
		if !hasModelFiles(nested) {
			continue
		}
		inner, err := os.ReadDir(nested)
		if err != nil {
			return err
		}
		for _, f := range inner {
			if err := os.Rename(filepath.Join(nested, f.Name()), filepath.Join(base, f.Name())); err != nil {
				return err
			}
		}
		return os.Remove(nested)
	}
	return errors.New("invalid model archive: missing required files")
}
