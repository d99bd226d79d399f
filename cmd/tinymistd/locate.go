package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuemby/tinymistd/pkg/config"
	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/locations"
	"github.com/cuemby/tinymistd/pkg/validation"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show where the tinymist binary is resolved",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		notifier := &events.Recorder{}
		resolver := newResolver(cfg, notifier)
		loc := resolver.Resolve()
		detection := locations.DetectPlatform(runtime.GOOS, runtime.GOARCH)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"location":   loc,
				"platform":   resolver.Platform(),
				"os_match":   detection.OSMatch,
				"arch_match": detection.ArchMatch,
				"warnings":   notifier.Warnings(),
			})
		}

		fmt.Printf("Platform:  %s (os %s, arch %s)\n", resolver.Platform(), detection.OSMatch, detection.ArchMatch)
		fmt.Printf("Version:   %s\n", loc.VersionTag)
		fmt.Printf("Binary:    %s\n", loc.LocalPath)
		fmt.Printf("Custom:    %v\n", loc.Custom)
		fmt.Printf("Download:  %s\n", loc.RemoteURL)
		if info, err := os.Stat(loc.LocalPath); err == nil {
			fmt.Printf("Installed: yes, %s, %s\n", humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
		} else {
			fmt.Println("Installed: no")
		}
		for _, w := range notifier.Warnings() {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [PATH]",
	Short: "Check that a tinymist binary runs and is recent enough",
	Long: `Run the version probe against PATH, or the resolved binary when PATH is
omitted. Exits non-zero when the binary cannot be used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path = newResolver(cfg, events.Discard{}).Resolve().LocalPath
		}

		if file := validation.ValidateBinaryFile(path); !file.Valid {
			return fmt.Errorf("%s: %s", path, file.Message)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result := validation.NewExecutionValidator().Validate(ctx, path)
		if !result.Valid {
			return fmt.Errorf("%s: %s", path, result.Message)
		}
		fmt.Printf("✓ %s is tinymist %s\n", path, result.Version)
		return nil
	},
}

func init() {
	locateCmd.Flags().Bool("json", false, "Print the resolution as JSON")
}

func newResolver(cfg config.Config, notifier events.Notifier) *locations.Resolver {
	return locations.NewResolver(config.NewStore("", cfg, nil), cfg.DataDir,
		locations.WithReleasesHost(cfg.ReleasesHost),
		locations.WithNotifier(notifier),
	)
}
