package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/fetch"
	"github.com/cuemby/tinymistd/pkg/scheduler"
	"github.com/cuemby/tinymistd/pkg/types"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the tinymist binary",
	Long: `Download the pinned tinymist release for this platform into the data
directory. Nothing is downloaded when the binary is already installed or a
valid custom binary is configured.`,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().Bool("no-progress", false, "Do not render a progress bar")
}

// progressBar renders fetch progress. The bar is created on the first report
// since the entry size is only known once the archive is being read.
type progressBar struct {
	mu  sync.Mutex
	bar *pb.ProgressBar
}

func (p *progressBar) report(pr fetch.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		total := pr.Total
		if total < 0 {
			total = 0
		}
		p.bar = pb.Full.Start64(total)
		p.bar.Set(pb.Bytes, true)
		p.bar.Set("prefix", pr.Entry+" ")
	}
	p.bar.SetCurrent(pr.Written)
}

func (p *progressBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
	}
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	notifier := &events.Recorder{}
	resolver := newResolver(cfg, notifier)

	bar := &progressBar{}
	opts := []fetch.Option{fetch.WithTimeout(cfg.Download.Timeout)}
	if !noProgress {
		opts = append(opts, fetch.WithProgress(bar.report))
	}
	sched := scheduler.New(resolver, fetch.NewFetcher(notifier, opts...),
		scheduler.WithNotifier(notifier),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := sched.ObtainBinary(ctx)
	for _, w := range notifier.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	if status.Kind == types.DownloadDownloaded {
		fmt.Printf("✓ Already installed: %s\n", status.Path)
		return nil
	}

	loc := resolver.Resolve()
	fmt.Printf("Downloading tinymist %s for %s\n", loc.VersionTag, resolver.Platform())
	fmt.Printf("  From: %s\n", loc.RemoteURL)

	// Ctrl+C cancels the download
	go func() {
		<-ctx.Done()
		sched.CancelDownload()
	}()

	err = sched.Wait(context.Background())
	bar.finish()
	if err != nil {
		for _, e := range notifier.Errors() {
			fmt.Fprintln(os.Stderr, e)
		}
		return err
	}

	info, err := os.Stat(loc.LocalPath)
	if err != nil {
		return fmt.Errorf("binary missing after install: %w", err)
	}
	fmt.Printf("✓ Installed %s (%s)\n", loc.LocalPath, humanize.Bytes(uint64(info.Size())))
	return nil
}
