// Command pos-example tags parts of speech in two Dutch sentences with the
// DeepFrog POS model, printing each result as soon as it is ready.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"deepfrog/internal/backends"
	"deepfrog/internal/config"
	"deepfrog/internal/logger"
	"deepfrog/internal/models"
	"deepfrog/internal/pipeline"
)

const model = "proycon/bert-pos-cased-deepfrog-nld"

var sentences = []string{
	"Ik geef hem een cadeau.",
	"Amsterdam is de hoofdstad van Nederland, maar de regering zetelt in Den Haag.",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "\nTroubleshooting:")
		fmt.Fprintln(os.Stderr, "- Run: deepfrog doctor")
		fmt.Fprintln(os.Stderr, "- Local inference needs an ONNX export; try DEEPFROG_BACKEND=remote with HF_TOKEN set")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	logger.SetLevelFromString(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return err
	}
	reg, err := models.LoadEmbeddedRegistry()
	if err != nil {
		return err
	}
	backend, err := backends.New(cfg, backends.Options{Registry: reg})
	if err != nil {
		return err
	}

	// one pipeline, so the model loads once for both sentences
	p, err := pipeline.New(pipeline.TaskPOS, model, model,
		pipeline.WithBackend(backend),
		pipeline.WithRevision(cfg.Hub.Revision),
		pipeline.WithMaxBytes(cfg.Pipeline.MaxBytes))
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Hub.Timeout+cfg.Inference.Timeout)
	defer cancel()

	for _, s := range sentences {
		start := time.Now()
		records, err := p.Run(ctx, s)
		if err != nil {
			return err
		}
		logger.GetLogger().WithField("elapsed", time.Since(start)).Info("pos done")
		fmt.Println("[")
		for _, r := range records {
			fmt.Printf("  %s\n", r)
		}
		fmt.Println("]")
	}
	return nil
}
