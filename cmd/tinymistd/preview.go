package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/tinymistd/pkg/config"
	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/manager"
	"github.com/cuemby/tinymistd/pkg/network"
	"github.com/cuemby/tinymistd/pkg/preview"
)

var previewCmd = &cobra.Command{
	Use:   "preview FILE",
	Short: "Start a preview server for a document",
	Long: `Start a tinymist preview server for FILE and keep it running until
interrupted. The binary must already be installed (see install).

Examples:
  # Preview a document
  tinymistd preview thesis/main.typ

  # Show the command line that would be run
  tinymistd preview --dry-run --input draft=true thesis/main.typ`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().Bool("dry-run", false, "Print the preview command line and exit")
	previewCmd.Flags().String("root", "", "Project root passed to --root")
	previewCmd.Flags().StringToString("input", nil, "sys.inputs entries (key=value)")
	previewCmd.Flags().StringSlice("font-path", nil, "Additional font directories")
	previewCmd.Flags().String("mode", "", "Preview mode (document or slide)")
	previewCmd.Flags().Bool("open", false, "Open the preview in a browser")
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyPreviewFlags(cmd, &cfg)

	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		opts := cfg.Preview.WithPorts("<task-id>", cfg.Pool.StartPort, cfg.Pool.StartPort+1)
		bin := newResolver(cfg, events.Discard{}).Resolve().LocalPath
		fmt.Println(strings.Join(append([]string{bin}, opts.Args(file)...), " "))
		return nil
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	mgr, err := manager.New(config.NewStore("", cfg, broker), broker)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := mgr.RequestPreview(ctx, file)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Preview server started for %s\n", file)
	fmt.Printf("  PID:           %d\n", info.PID)
	fmt.Printf("  Task ID:       %s\n", info.TaskID)
	fmt.Printf("  Data plane:    %s\n", network.HostPort(info.DataPort))
	fmt.Printf("  Control plane: %s\n", network.HostPort(info.ControlPort))
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	<-ctx.Done()
	report := mgr.DocumentClosed(file)
	fmt.Printf("\n✓ Stopped after %s (%s)\n", report.Duration.Round(time.Millisecond), report.Last())
	return nil
}

func applyPreviewFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Preview.Root, _ = flags.GetString("root")
	}
	if flags.Changed("input") {
		cfg.Preview.Inputs, _ = flags.GetStringToString("input")
	}
	if flags.Changed("font-path") {
		cfg.Preview.FontPaths, _ = flags.GetStringSlice("font-path")
	}
	if flags.Changed("mode") {
		mode, _ := flags.GetString("mode")
		cfg.Preview.Mode = preview.Mode(mode)
	}
	if flags.Changed("open") {
		cfg.Preview.OpenInBrowser, _ = flags.GetBool("open")
	}
}
