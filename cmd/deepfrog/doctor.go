package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"deepfrog/internal/models"
	"deepfrog/internal/onnx"
)

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
	// optional checks print a warning instead of failing
	optional bool
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the inference environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChecks(cmd.Context(), cmd.OutOrStdout(), a.checks())
		},
	}
}

func (a *app) checks() []check {
	cfg := a.cfg
	checks := []check{
		{name: "backend", run: func(context.Context) (string, error) {
			return cfg.Backend, nil
		}},
		{name: "cache", run: func(context.Context) (string, error) {
			if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
				return "", err
			}
			f, err := os.CreateTemp(cfg.CacheDir, ".doctor-*")
			if err != nil {
				return "", fmt.Errorf("%s is not writable: %w", cfg.CacheDir, err)
			}
			_ = f.Close()
			_ = os.Remove(f.Name())
			installed, err := models.ListInstalled(cfg.CacheDir)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d installed)", cfg.CacheDir, len(installed)), nil
		}},
		{name: "hub token", optional: true, run: func(context.Context) (string, error) {
			if cfg.Hub.Token == "" {
				return "", errors.New("not set; gated models and hosted inference may refuse requests")
			}
			return "set", nil
		}},
	}
	if cfg.Backend == "remote" {
		return append(checks, check{name: "inference endpoint", run: func(context.Context) (string, error) {
			return cfg.Inference.Endpoint, nil
		}})
	}
	switch cfg.ONNX.Runtime {
	case onnx.RuntimeNative:
		checks = append(checks, check{name: "onnxruntime library", run: func(context.Context) (string, error) {
			if err := onnx.ProbeLibrary(cfg.ONNX.LibraryPath); err != nil {
				return "", err
			}
			if cfg.ONNX.LibraryPath == "" {
				return "found on the library path", nil
			}
			return cfg.ONNX.LibraryPath, nil
		}})
	default:
		checks = append(checks, check{name: "python onnxruntime", run: func(ctx context.Context) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			v, err := onnx.ProbePython(ctx, cfg.ONNX.Python)
			if err != nil {
				return "", err
			}
			return "onnxruntime " + v, nil
		}})
	}
	return checks
}

func runChecks(ctx context.Context, w io.Writer, checks []check) error {
	failed := 0
	for _, c := range checks {
		detail, err := c.run(ctx)
		switch {
		case err == nil:
			fmt.Fprintf(w, "✓ %-20s %s\n", c.name, detail)
		case c.optional:
			fmt.Fprintf(w, "! %-20s %v\n", c.name, err)
		default:
			fmt.Fprintf(w, "✗ %-20s %v\n", c.name, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
