package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"deepfrog/internal/backends"
	"deepfrog/internal/models"
)

func newModelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the model cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registry models and installed checkpoints",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return modelList(cmd.OutOrStdout(), a.registry, a.cfg.CacheDir)
			},
		},
		&cobra.Command{
			Use:   "info <id>",
			Short: "Show a registry model",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return modelInfo(cmd.OutOrStdout(), a.registry, a.cfg.CacheDir, args[0], a.revisionOrDefault())
			},
		},
		newModelDownloadCmd(a),
		newModelRemoveCmd(a),
		&cobra.Command{
			Use:   "verify",
			Short: "Check installed checkpoints for missing files",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return modelVerify(cmd.OutOrStdout(), a.cfg.CacheDir)
			},
		},
	)
	return cmd
}

func newModelDownloadCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "download <id>... | --all",
		Short: "Download checkpoints into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if all {
				ids = nil
				for _, m := range a.registry.Models {
					if m.Recommended {
						ids = append(ids, m.ID)
					}
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("usage: deepfrog model download <id> or deepfrog model download --all")
			}
			out := cmd.OutOrStdout()
			r := backends.NewResolver(a.cfg, a.backendOptions(cmd.ErrOrStderr()))
			for _, id := range ids {
				fmt.Fprintf(out, "Downloading %s (%s)\n", a.registry.Canonical(id), a.revisionOrDefault())
				dir, err := r.ResolveModel(cmd.Context(), id, a.revisionOrDefault())
				if err != nil {
					return err
				}
				if err := models.Verify(dir); err != nil {
					return fmt.Errorf("validate model: %w", err)
				}
				fmt.Fprintf(out, "Model %s installed at %s\n", id, dir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "download all recommended models")
	return cmd
}

func newModelRemoveCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete every cached revision of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return modelRemove(cmd.InOrStdin(), cmd.OutOrStdout(), a.registry, a.cfg.CacheDir, args[0], yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func modelList(w io.Writer, registry models.Registry, root string) error {
	installed, err := models.ListInstalled(root)
	if err != nil {
		return err
	}
	byID := make(map[string][]models.Installed)
	for _, in := range installed {
		byID[in.ID] = append(byID[in.ID], in)
	}

	fmt.Fprintln(w, "Registry Models")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	fmt.Fprintf(w, "%-40s %-6s %-5s %-10s %-14s %s\n", "ID", "TASK", "LANG", "SIZE", "STATUS", "ALIASES")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, m := range registry.Models {
		status := "not installed"
		if revs := byID[m.ID]; len(revs) > 0 {
			status = "installed"
			delete(byID, m.ID)
		}
		fmt.Fprintf(w, "%-40s %-6s %-5s %-10s %-14s %s\n", m.ID, m.Task, m.Language, sizeLabel(m.SizeBytes), status, strings.Join(m.Aliases, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("-", 96))

	var total int64
	for _, in := range installed {
		total += in.SizeBytes
	}
	if len(byID) > 0 {
		fmt.Fprintln(w, "\nOther cached checkpoints")
		for _, in := range installed {
			if _, ok := byID[in.ID]; ok {
				fmt.Fprintf(w, "  %s@%s %s\n", in.ID, in.Revision, humanize.Bytes(uint64(in.SizeBytes)))
			}
		}
	}
	fmt.Fprintf(w, "Installed: %d checkpoint(s), %s in %s\n", len(installed), humanize.Bytes(uint64(total)), root)
	fmt.Fprintln(w, "\nTip: Use 'deepfrog model download <id>' to install a model")
	return nil
}

func modelInfo(w io.Writer, registry models.Registry, root, name, revision string) error {
	m, ok := registry.Find(name)
	if !ok {
		return fmt.Errorf("model %q not found", name)
	}
	location := models.ModelInstallPath(root, m.ID, revision)
	status := "Not installed"
	if models.IsComplete(location) {
		status = "Installed"
	}
	fmt.Fprintf(w, "Model: %s\n", m.ID)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Status:       %s\n", status)
	fmt.Fprintf(w, "Task:         %s\n", m.Task)
	fmt.Fprintf(w, "Language:     %s\n", m.Language)
	fmt.Fprintf(w, "Aliases:      %s\n", strings.Join(m.Aliases, ", "))
	fmt.Fprintf(w, "Size:         %s\n", sizeLabel(m.SizeBytes))
	fmt.Fprintf(w, "Location:     %s\n", location)
	fmt.Fprintf(w, "Description:  %s\n", m.Description)
	fmt.Fprintf(w, "Labels:       %s\n", strings.Join(m.Labels, ", "))
	fmt.Fprintf(w, "License:      %s\n", m.License)
	if m.Example != "" {
		fmt.Fprintf(w, "Example:      %s\n", m.Example)
	}
	if m.Archive != nil {
		fmt.Fprintf(w, "Archive:      %s\n", m.Archive.URL)
		fmt.Fprintf(w, "Checksum:     %s\n", m.Archive.Checksum)
	}
	return nil
}

func modelRemove(in io.Reader, w io.Writer, registry models.Registry, root, name string, yes bool) error {
	id := registry.Canonical(name)
	if !yes {
		fmt.Fprintf(w, "Remove every cached revision of '%s' from %s?\n", id, root)
		fmt.Fprint(w, "Continue? (y/N): ")
		resp, _ := bufio.NewReader(in).ReadString('\n')
		resp = strings.TrimSpace(strings.ToLower(resp))
		if resp != "y" && resp != "yes" {
			fmt.Fprintln(w, "Cancelled")
			return nil
		}
	}
	removed, err := models.Remove(root, id)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(w, "Model %s is not installed\n", id)
		return nil
	}
	fmt.Fprintf(w, "Model %s removed\n", id)
	return nil
}

func modelVerify(w io.Writer, root string) error {
	installed, err := models.ListInstalled(root)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Verifying installed models...")
	if len(installed) == 0 {
		fmt.Fprintln(w, "\nNo installed models found")
		return nil
	}
	failures := 0
	for _, in := range installed {
		fmt.Fprintf(w, "\n%s@%s\n", in.ID, in.Revision)
		if sources, err := models.Sources(in.Path); err == nil && len(sources) > 0 {
			fmt.Fprintf(w, "  ├─ Source... %s\n", sources[0])
		}
		if err := models.Verify(in.Path); err != nil {
			fmt.Fprintf(w, "  └─ Files...  ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  └─ Files...  ✓")
	}
	if failures > 0 {
		return fmt.Errorf("%d model(s) failed verification", failures)
	}
	fmt.Fprintln(w, "\nAll models verified")
	return nil
}

func sizeLabel(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}
