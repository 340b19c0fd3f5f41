package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lightocr/ocrstream/cmd/ocrstream/ui"
	"github.com/lightocr/ocrstream/pkg/ocrstream"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Extract text from a PDF or image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOCR(cmd.Root(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOCR(cmd *cobra.Command, path string) error {
	initUI()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	client, err := ocrstream.NewClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Refuse to start a run without a live server.
	sp := ui.NewSpinner("checking server...")
	sp.Start()
	healthErr := client.Health(ctx)
	sp.Stop()
	if healthErr != nil {
		ui.Error("server is not reachable at %s: %v", cfg.Server.URL, healthErr)
		return healthErr
	}
	ui.Success("server is up")

	events, result, err := client.Process(ctx, path)
	if err != nil {
		return err
	}

	var bar interface{ Add(int) error }
	for ev := range events {
		switch ev.Type {
		case ocrstream.EventStart:
			if !cfg.Run.Quiet {
				ui.Info("processing %s (%d pages)", filepath.Base(path), ev.Total)
			} else if ev.Total > 1 {
				bar = ui.NewPageBar(ev.Total, "pages")
			}
		case ocrstream.EventPageStart:
			if !cfg.Run.Quiet && ev.Total > 1 {
				ui.Section(fmt.Sprintf("-- page %d/%d --", ev.Page, ev.Total))
			}
		case ocrstream.EventChunk:
			if !cfg.Run.Quiet {
				fmt.Print(ev.Content)
			}
		case ocrstream.EventPageRetrying:
			ui.Warn("page %d: %v (retrying)", ev.Page, ev.Err)
		case ocrstream.EventPageDone, ocrstream.EventPageFailed, ocrstream.EventPageSkipped:
			if bar != nil {
				_ = bar.Add(1)
			}
			if ev.Type == ocrstream.EventPageFailed {
				ui.Error("page %d failed: %v", ev.Page, ev.Err)
			}
		}
	}
	if !cfg.Run.Quiet {
		fmt.Println()
	}

	report, runErr := result()

	if cfg.Run.Stats && report != nil {
		ui.Section("stats")
		ui.Info("%s", report.Summary())
	}

	if runErr != nil {
		ui.Error("run failed: %v", runErr)
		return runErr
	}

	if report != nil && cfg.Output.Save {
		ui.Success("done: %d/%d pages -> %s", report.Succeeded, report.TotalPages, report.Output)
	} else if report != nil {
		ui.Success("done: %d/%d pages", report.Succeeded, report.TotalPages)
	}
	return nil
}
