// Package main provides the flowlog CLI for extracting structured logs from
// HTTP flow capture stores.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"flowlog/internal/extract"
	"flowlog/internal/format"
	"flowlog/internal/merge"
	"flowlog/internal/sse"
)

var version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "flowlog",
	Short:   "Extract, merge, and browse captured API traffic",
	Version: version,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newShowCmd())
}

// defaultCaptureDir returns the directory searched for capture stores when
// no store path is given.
func defaultCaptureDir() string {
	if dir := os.Getenv("FLOWLOG_CAPTURE_DIR"); dir != "" {
		return dir
	}
	return "cli-agent-logs"
}

// defaultUsageMode returns the usage accounting mode from the environment.
func defaultUsageMode() string {
	if mode := os.Getenv("FLOWLOG_USAGE_MODE"); mode != "" {
		return mode
	}
	return "absolute"
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowlog: %v\n", err)
		os.Exit(1)
	}
}

func newExtractCmd() *cobra.Command {
	var (
		captureDir string
		outputDir  string
		usageMode  string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "extract [store]",
		Short: "Extract a capture store into original and merged JSON documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := merge.ParseUsageRule(usageMode)
			if err != nil {
				return err
			}

			var stores []string
			switch {
			case len(args) == 1:
				if all {
					return errors.New("--all cannot be used with an explicit store path")
				}
				stores = []string{args[0]}
			case all:
				stores, err = captureStores(captureDir)
				if err != nil {
					return err
				}
			default:
				store, err := latestStore(captureDir)
				if err != nil {
					return err
				}
				stores = []string{store}
			}

			var failed int
			for _, store := range stores {
				res, err := extract.Run(extract.Options{
					StorePath: store,
					OutputDir: outputDir,
					UsageRule: rule,
					Logger:    slog.Default(),
				})
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "flowlog: extract %s: %v\n", store, err)
					continue
				}
				format.WriteSummary(cmd.OutOrStdout(), res)
				if len(res.Warnings) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "%d warnings:\n", len(res.Warnings))
					for _, warning := range res.Warnings {
						fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", warning)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d stores failed", failed, len(stores))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&captureDir, "dir", "d", defaultCaptureDir(),
		"Capture directory searched when no store path is given (env: FLOWLOG_CAPTURE_DIR)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "",
		"Directory for export documents (default: alongside the store)")
	cmd.Flags().StringVar(&usageMode, "usage-mode", defaultUsageMode(),
		"How message_delta usage counters apply: 'absolute' or 'delta' (env: FLOWLOG_USAGE_MODE)")
	cmd.Flags().BoolVar(&all, "all", false, "Extract every capture store in the capture directory")

	return cmd
}

func newListCmd() *cobra.Command {
	var (
		captureDir string
		formatFlag string
		noHeader   bool
	)

	cmd := &cobra.Command{
		Use:   "list [store]",
		Short: "List the flows of a capture store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := resolveStore(args, captureDir)
			if err != nil {
				return err
			}

			flows, warnings, err := extract.ListFlows(store)
			if err != nil {
				return err
			}
			for _, warning := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", warning)
			}

			if formatFlag == "" {
				if stdoutIsTerminal() {
					formatFlag = "table"
				} else {
					formatFlag = "plain"
				}
			}
			return format.WriteFlows(cmd.OutOrStdout(), flows, !noHeader, formatFlag, urlColumnWidth())
		},
	}

	cmd.Flags().StringVarP(&captureDir, "dir", "d", defaultCaptureDir(),
		"Capture directory searched when no store path is given (env: FLOWLOG_CAPTURE_DIR)")
	cmd.Flags().StringVar(&formatFlag, "format", "", "Output format: table, plain, or json (default: table on a TTY)")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "Omit the header row")

	return cmd
}

func newShowCmd() *cobra.Command {
	var (
		captureDir string
		usageMode  string
		wrapWidth  int
	)

	cmd := &cobra.Command{
		Use:   "show <index> [store]",
		Short: "Render one flow's merged message as readable text",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid flow index %q", args[0])
			}
			rule, err := merge.ParseUsageRule(usageMode)
			if err != nil {
				return err
			}
			store, err := resolveStore(args[1:], captureDir)
			if err != nil {
				return err
			}

			rec, err := extract.FlowAt(store, index)
			if err != nil {
				return err
			}
			if sse.Classify(rec.Response.Headers, rec.Response.Body) != sse.KindEventStream {
				fmt.Fprintln(cmd.OutOrStdout(), string(rec.Response.Body))
				return nil
			}

			msg, complete, err := merge.Merge(sse.Parse(rec.Response.Body), rule)
			if err != nil {
				return fmt.Errorf("merge flow %d: %w", index, err)
			}
			for _, line := range format.RenderMessage(msg, wrapWidth) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if !complete {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: stream ended without message_stop; merge is partial")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&captureDir, "dir", "d", defaultCaptureDir(),
		"Capture directory searched when no store path is given (env: FLOWLOG_CAPTURE_DIR)")
	cmd.Flags().StringVar(&usageMode, "usage-mode", defaultUsageMode(),
		"How message_delta usage counters apply: 'absolute' or 'delta'")
	cmd.Flags().IntVar(&wrapWidth, "wrap", 0, "Wrap text content at this width (0 disables)")

	return cmd
}

// resolveStore picks the store from an optional positional argument, falling
// back to the most recent store in the capture directory.
func resolveStore(args []string, captureDir string) (string, error) {
	if len(args) == 1 && args[0] != "" {
		return args[0], nil
	}
	return latestStore(captureDir)
}

// captureStores returns every capture store under dir, sorted by name.
func captureStores(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture directory: %w", err)
	}

	var stores []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".cap") || strings.HasSuffix(name, ".cap.zst") {
			stores = append(stores, filepath.Join(dir, name))
		}
	}
	if len(stores) == 0 {
		return nil, fmt.Errorf("no capture stores found in %s", dir)
	}
	sort.Strings(stores)
	return stores, nil
}

// latestStore returns the most recently modified capture store in dir.
func latestStore(dir string) (string, error) {
	stores, err := captureStores(dir)
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod int64
	for _, store := range stores {
		info, err := os.Stat(store)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", err
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest = store
			latestMod = mod
		}
	}
	return latest, nil
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// urlColumnWidth sizes the URL column from the terminal, leaving room for
// the fixed-width columns around it.
func urlColumnWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 80 {
		return w - 70
	}
	return 60
}
