// Command ner-example tags named entities in a Dutch sentence with the
// SoNaR-1 BERT model and prints the records.
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

const (
	model = "proycon/bert-ner-cased-sonar1-nld"
	text  = "Amsterdam is de hoofdstad van Nederland, maar de regering zetelt in Den Haag."
)

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

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Hub.Timeout+cfg.Inference.Timeout)
	defer cancel()

	start := time.Now()
	records, err := pipeline.Invoke(ctx, backend, pipeline.TaskNER, model, model, text,
		pipeline.WithRevision(cfg.Hub.Revision),
		pipeline.WithMaxBytes(cfg.Pipeline.MaxBytes))
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("elapsed", time.Since(start)).Info("ner done")

	fmt.Println("[")
	for _, r := range records {
		fmt.Printf("  %s\n", r)
	}
	fmt.Println("]")
	return nil
}
