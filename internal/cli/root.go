// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hfxget/hfxget/internal/config"
	"github.com/hfxget/hfxget/internal/filter"
	"github.com/hfxget/hfxget/internal/logctx"
	"github.com/hfxget/hfxget/internal/tui"
	"github.com/hfxget/hfxget/pkg/hfxget"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token    string
	JSONOut  bool
	Quiet    bool
	Config   string
	LogLevel string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	env, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}

	root := &cobra.Command{
		Use:           "hfxget",
		Short:         "Accelerated, resumable downloader for HuggingFace repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := env.SlogLevel()
			if ro.LogLevel != "" {
				level = parseLevel(ro.LogLevel)
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))
		},
	}

	// Global flags
	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Hub access token (also reads HFX_TOKEN / HF_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events (progress, plan, results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (plain text, no progress bar)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	downloadCmd := newDownloadCmd(ctx, ro, env)
	root.AddCommand(downloadCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())

	// Make download the default command when no subcommand is given
	root.RunE = downloadCmd.RunE
	root.Flags().AddFlagSet(downloadCmd.Flags())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newDownloadCmd(ctx context.Context, ro *RootOpts, env *config.Env) *cobra.Command {
	job := &hfxget.Job{}
	cfg := hfxget.DefaultSettings()
	var isDataset, isSpace, dryRun bool
	var include, exclude []string

	cmd := &cobra.Command{
		Use:   "download [REPO]",
		Short: "Download a model, dataset, or space from the hub",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnv(cmd, env, &cfg)
			if err := applyConfigFile(cmd, ro, &cfg); err != nil {
				return err
			}
			finalJob, finalCfg, err := finalize(ro, args, *job, cfg, isDataset, isSpace, include, exclude)
			if err != nil {
				return err
			}
			log := logctx.LoggerFromContext(cmd.Context())

			if dryRun {
				plan, err := hfxget.PlanRepo(ctx, finalJob, finalCfg)
				if err != nil {
					return err
				}
				if ro.JSONOut {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(plan)
				}
				fmt.Printf("Plan for %s@%s (%d files):\n", finalJob.Repo, finalJob.Revision, len(plan))
				for _, it := range plan {
					fmt.Printf("  %-12s %12d  %s\n", it.Source, it.Entry.Size, it.Entry.Path)
				}
				return nil
			}

			var progress hfxget.ProgressFunc
			var ui *tui.Renderer
			switch {
			case ro.JSONOut:
				progress = jsonProgress(os.Stdout)
			case ro.Quiet:
				progress = cliProgress(finalJob)
			default:
				ui = tui.NewRenderer(finalJob)
				defer ui.Close()
				progress = ui.Handler()
			}

			summary, err := hfxget.Download(ctx, finalJob, finalCfg, progress)
			if ui != nil {
				ui.Close()
			}
			if err != nil {
				return err
			}

			if ro.JSONOut {
				enc := json.NewEncoder(os.Stdout)
				if encErr := enc.Encode(summary); encErr != nil {
					return encErr
				}
			} else {
				tui.PrintSummary(os.Stdout, summary)
			}

			if summary.Failed > 0 {
				log.Warn("run finished with failures",
					"failed", summary.Failed, "completed", summary.Completed)
				return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Total())
			}
			return nil
		},
	}

	// Job flags
	cmd.Flags().StringVarP(&job.Repo, "repo", "r", "", "Repository ID (owner/name). If omitted, positional REPO is used")
	cmd.Flags().BoolVar(&isDataset, "dataset", false, "Treat repo as a dataset")
	cmd.Flags().BoolVar(&isSpace, "space", false, "Treat repo as a space")
	cmd.Flags().StringVarP(&job.Revision, "revision", "b", "main", "Revision/branch to download (e.g. main, refs/pr/1)")
	cmd.Flags().StringSliceVarP(&include, "include", "F", nil, "Glob patterns to include (e.g. '*.safetensors,tokenizer/*')")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Glob patterns to exclude; wins over --include")

	// Settings flags
	cmd.Flags().StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Destination base directory")
	cmd.Flags().IntVarP(&cfg.MaxWorkers, "workers", "c", cfg.MaxWorkers, "Maximum number of files downloading at once")
	cmd.Flags().StringVar(&cfg.MirrorBaseURL, "mirror", cfg.MirrorBaseURL, "Mirror base URL for regular files")
	cmd.Flags().StringVar(&cfg.AcceleratorBaseURL, "accelerator", cfg.AcceleratorBaseURL, "Accelerator base URL for large (LFS) files")
	cmd.Flags().StringVar(&cfg.HubAPIBaseURL, "hub-api", cfg.HubAPIBaseURL, "Hub API base URL (defaults to the mirror)")
	cmd.Flags().IntVar(&cfg.Retries, "retries", cfg.Retries, "Max retry attempts per file for transient failures")
	cmd.Flags().StringVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial retry backoff duration")
	cmd.Flags().StringVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum retry backoff duration")

	// CLI-only flags
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan only: print the routed file list and exit")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func finalize(ro *RootOpts, args []string, job hfxget.Job, cfg hfxget.Settings, isDataset, isSpace bool, include, exclude []string) (hfxget.Job, hfxget.Settings, error) {
	// Token: flag wins, then env (already applied), then HF_TOKEN.
	if tok := strings.TrimSpace(ro.Token); tok != "" {
		cfg.Token = tok
	}
	if cfg.Token == "" {
		cfg.Token = strings.TrimSpace(os.Getenv("HF_TOKEN"))
	}

	if job.Repo == "" && len(args) > 0 {
		job.Repo = args[0]
	}
	if job.Repo == "" {
		return job, cfg, fmt.Errorf("missing REPO (owner/name). Pass as positional arg or --repo")
	}
	if !hfxget.IsValidRepoName(job.Repo) {
		return job, cfg, fmt.Errorf("invalid repo id %q (expected owner/name)", job.Repo)
	}

	switch {
	case isDataset && isSpace:
		return job, cfg, fmt.Errorf("--dataset and --space are mutually exclusive")
	case isDataset:
		job.Type = hfxget.RepoTypeDataset
	case isSpace:
		job.Type = hfxget.RepoTypeSpace
	}

	if f := (filter.Config{Include: include, Exclude: exclude}); !f.Empty() {
		job.Keep = func(e hfxget.RepoFileEntry) bool { return f.Keep(e.Path) }
	}

	return job, cfg, nil
}

// applyEnv layers environment values under any flags the user did not set
// explicitly; explicit flags always win.
func applyEnv(cmd *cobra.Command, env *config.Env, dst *hfxget.Settings) {
	staged := hfxget.Settings{
		OutputDir:          dst.OutputDir,
		MaxWorkers:         dst.MaxWorkers,
		MirrorBaseURL:      dst.MirrorBaseURL,
		AcceleratorBaseURL: dst.AcceleratorBaseURL,
		HubAPIBaseURL:      dst.HubAPIBaseURL,
		Retries:            dst.Retries,
		BackoffInitial:     dst.BackoffInitial,
		BackoffMax:         dst.BackoffMax,
		Token:              dst.Token,
	}
	env.Apply(&staged)

	changed := cmd.Flags().Changed
	if !changed("output") {
		dst.OutputDir = staged.OutputDir
	}
	if !changed("workers") {
		dst.MaxWorkers = staged.MaxWorkers
	}
	if !changed("mirror") {
		dst.MirrorBaseURL = staged.MirrorBaseURL
	}
	if !changed("accelerator") {
		dst.AcceleratorBaseURL = staged.AcceleratorBaseURL
	}
	if !changed("hub-api") {
		dst.HubAPIBaseURL = staged.HubAPIBaseURL
	}
	if !changed("retries") {
		dst.Retries = staged.Retries
	}
	if !changed("backoff-initial") {
		dst.BackoffInitial = staged.BackoffInitial
	}
	if !changed("backoff-max") {
		dst.BackoffMax = staged.BackoffMax
	}
	dst.Token = staged.Token
}

// applyConfigFile layers values from ~/.config/hfxget.{json,yaml,yml} (or
// --config) under any flags the user did not set explicitly.
func applyConfigFile(cmd *cobra.Command, ro *RootOpts, dst *hfxget.Settings) error {
	path := ro.Config
	if path == "" {
		home, _ := os.UserHomeDir()
		for _, name := range []string{"hfxget.json", "hfxget.yaml", "hfxget.yml"} {
			candidate := filepath.Join(home, ".config", name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid YAML config file: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}

	setStr("output", func(v string) { dst.OutputDir = v })
	setInt("workers", func(v int) { dst.MaxWorkers = v })
	setStr("mirror", func(v string) { dst.MirrorBaseURL = v })
	setStr("accelerator", func(v string) { dst.AcceleratorBaseURL = v })
	setStr("hub-api", func(v string) { dst.HubAPIBaseURL = v })
	setInt("retries", func(v int) { dst.Retries = v })
	setStr("backoff-initial", func(v string) { dst.BackoffInitial = v })
	setStr("backoff-max", func(v string) { dst.BackoffMax = v })

	if !cmd.Flags().Changed("token") && os.Getenv("HF_TOKEN") == "" {
		if v, ok := cfg["token"]; ok && v != nil {
			ro.Token = fmt.Sprint(v)
		}
	}

	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// cliProgress returns a simple text-based progress handler for quiet mode.
func cliProgress(job hfxget.Job) hfxget.ProgressFunc {
	return func(ev hfxget.ProgressEvent) {
		switch ev.Event {
		case "scan_start":
			fmt.Printf("Scanning %s@%s ...\n", job.Repo, job.Revision)
		case "retry":
			fmt.Printf("retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		case "file_start":
			fmt.Printf("downloading: %s via %s (%d bytes)\n", ev.Path, ev.Source, ev.Total)
		case "file_done":
			if strings.HasPrefix(ev.Message, "skip") {
				fmt.Printf("skip: %s %s\n", ev.Path, ev.Message)
			} else {
				fmt.Printf("done: %s\n", ev.Path)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case "done":
			fmt.Println(ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) hfxget.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev hfxget.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
