package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deepfrog/internal/lemma"
	"deepfrog/internal/pipeline"
)

const (
	amsterdamSentence = "Amsterdam is de hoofdstad van Nederland, maar de regering zetelt in Den Haag."
	giftSentence      = "Ik geef hem een cadeau."
)

func newNERCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ner [text]",
		Short: "Tag named entities",
		Long:  "Tag named entities with the Dutch SoNaR-1 NER model unless --model is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTask(cmd, pipeline.TaskNER, textsOr(args, amsterdamSentence))
		},
	}
}

func newPOSCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pos [text...]",
		Short: "Tag parts of speech",
		Long:  "Tag parts of speech with the DeepFrog POS model unless --model is given. Each text is annotated and printed in turn.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTask(cmd, pipeline.TaskPOS, textsOr(args, giftSentence, amsterdamSentence))
		},
	}
}

func newLemmaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lemma --model <id> [text]",
		Short: "Lemmatize words with an edit-script model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTask(cmd, pipeline.TaskLemma, textsOr(args, giftSentence))
		},
	}
}

func newTagCmd(a *app) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "tag --task <task> --model <id> <text>",
		Short: "Run any token classification task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := pipeline.ParseTask(task)
			if err != nil {
				return err
			}
			if a.model == "" {
				return fmt.Errorf("--model is required")
			}
			return a.runTask(cmd, t, args)
		},
	}
	cmd.Flags().StringVar(&task, "task", "ner", "task: ner, pos, lemma, token-classification")
	return cmd
}

func newLemmaApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lemma-apply <word> <script>",
		Short: "Apply an edit script to a word",
		Long:  "Apply an edit script such as -[ef]+[ven] to a word and print the lemma.",
		Args:  cobra.ExactArgs(2),
		// scripts start with '-', so arguments are taken verbatim
		DisableFlagParsing: true,
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := lemma.Compute(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func textsOr(args []string, defaults ...string) []string {
	if len(args) == 0 {
		return defaults
	}
	return args
}

// runTask annotates each text in order and prints its records before
// moving to the next one.
func (a *app) runTask(cmd *cobra.Command, task pipeline.Task, texts []string) error {
	format, err := parseFormat(a.output)
	if err != nil {
		return err
	}
	p, err := a.newPipeline(task, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer p.Close()

	for _, text := range texts {
		records, err := p.Run(cmd.Context(), strings.TrimRight(text, "\n"))
		if err != nil {
			return err
		}
		if err := printRecords(cmd.OutOrStdout(), format, records); err != nil {
			return err
		}
	}
	return nil
}
