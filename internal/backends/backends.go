// Package backends builds the configured inference backend.
package backends

import (
	"fmt"
	"time"

	"deepfrog/internal/config"
	"deepfrog/internal/httpclient"
	"deepfrog/internal/models"
	"deepfrog/internal/onnx"
	"deepfrog/internal/pipeline"
	"deepfrog/internal/remote"
)

type Options struct {
	Registry models.Registry
	Offline  bool
	// OnProgress receives download progress of the local backend.
	OnProgress models.ProgressCallback
}

// New returns the backend named by cfg.Backend.
func New(cfg *config.Config, opts Options) (pipeline.Backend, error) {
	switch cfg.Backend {
	case "remote":
		return remote.NewBackend(remote.Config{
			Endpoint:     cfg.Inference.Endpoint,
			HubEndpoint:  cfg.Hub.Endpoint,
			Token:        cfg.Hub.Token,
			Timeout:      cfg.Inference.Timeout,
			RetryMax:     cfg.Inference.RetryMax,
			WaitForModel: cfg.Inference.WaitForModel,
			LoadAttempts: cfg.Inference.LoadAttempts,
		}), nil
	case "local", "":
		r := NewResolver(cfg, opts)
		return onnx.NewBackend(onnx.Config{
			Resolver: r,
			Session: onnx.SessionConfig{
				Runtime:     cfg.ONNX.Runtime,
				Python:      cfg.ONNX.Python,
				LibraryPath: cfg.ONNX.LibraryPath,
			},
		}), nil
	default:
		return nil, fmt.Errorf("invalid backend %q", cfg.Backend)
	}
}

func NewDownloader(cfg *config.Config) *models.Downloader {
	dl := models.NewDownloader()
	dl.HubEndpoint = cfg.Hub.Endpoint
	dl.Token = cfg.Hub.Token
	dl.Client = httpclient.New(httpclient.Options{
		RetryMax:     cfg.Hub.RetryMax,
		Timeout:      cfg.Hub.Timeout,
		RetryWaitMin: 500 * time.Millisecond,
	})
	return dl
}

func NewResolver(cfg *config.Config, opts Options) *models.Resolver {
	r := models.NewResolver(cfg.CacheDir, opts.Registry, NewDownloader(cfg))
	r.Offline = opts.Offline
	r.OnProgress = opts.OnProgress
	return r
}
