package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuemby/tinymistd/pkg/client"
)

// Commands that talk to a running daemon

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}

		info, err := c.Binary()
		if err != nil {
			return err
		}
		fmt.Printf("Binary:      %s\n", info.Location.LocalPath)
		fmt.Printf("Version:     %s\n", info.Location.VersionTag)
		fmt.Printf("Installed:   %v\n", info.Present)
		fmt.Printf("Acquisition: %s\n", info.State)

		previews, err := c.ListPreviews()
		if err != nil {
			return err
		}
		fmt.Println()
		if len(previews) == 0 {
			fmt.Println("No preview servers running")
			return nil
		}
		fmt.Printf("%-8s %-7s %-7s %-12s %s\n", "PID", "DATA", "CONTROL", "STARTED", "DOCUMENT")
		for _, p := range previews {
			reach := ""
			if p.Reachable != nil && !*p.Reachable {
				reach = " (unreachable)"
			}
			fmt.Printf("%-8d %-7d %-7d %-12s %s%s\n", p.PID, p.DataPort, p.ControlPort,
				humanize.RelTime(p.StartTime, time.Now(), "ago", ""), p.Path, reach)
		}
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open FILE",
	Short: "Tell the daemon a document was opened",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		resp, err := c.OpenDocument(path)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s opened, binary %s\n", path, resp.Status)

		withPreview, _ := cmd.Flags().GetBool("preview")
		if !withPreview {
			return nil
		}
		preview, err := c.RequestPreview(path)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Preview on data port %d, control port %d (pid %d)\n",
			preview.DataPort, preview.ControlPort, preview.PID)
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close FILE",
	Short: "Tell the daemon a document was closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		resp, err := c.CloseDocument(path)
		if err != nil {
			return err
		}
		if !resp.Found {
			fmt.Printf("No preview server for %s\n", path)
			return nil
		}
		fmt.Printf("✓ Preview server stopped in %s %v\n", resp.Duration, resp.Stages)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, openCmd, closeCmd} {
		c.Flags().String("addr", "", "Daemon admin API address (default from config)")
		rootCmd.AddCommand(c)
	}
	openCmd.Flags().Bool("preview", false, "Also start a preview server")
}

func remoteClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		addr = cfg.API.Addr
	}
	return client.NewClient(addr), nil
}
