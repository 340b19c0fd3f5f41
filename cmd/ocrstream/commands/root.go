// Package commands defines the ocrstream CLI.
package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lightocr/ocrstream/cmd/ocrstream/ui"
	"github.com/lightocr/ocrstream/internal/config"
	"github.com/lightocr/ocrstream/internal/observability"
	"github.com/rs/zerolog"
)

var (
	cfgFile   string
	serverURL string
	model     string
	verbose   bool
	noColor   bool
	logFormat string

	noStream    bool
	saveMode    string
	quiet       bool
	showStats   bool
	noSave      bool
	skipErrors  bool
	resume      bool
	startPage   int
	endPage     int
	pageTimeout time.Duration
	maxTokens   int
	outputPath  string
	dpi         int
	quality     int
	noRepCheck  bool
)

var rootCmd = &cobra.Command{
	Use:   "ocrstream [file]",
	Short: "Streaming OCR client for a local vision-language-model server",
	Long: `ocrstream extracts text from PDFs and images by driving a locally hosted
vision-language-model inference server. Output streams to the terminal and
is persisted incrementally, so long multi-page jobs survive interruption
and can be resumed at page granularity.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runOCR(cmd, args[0])
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to YAML config file")
	pf.StringVar(&serverURL, "server", "", "inference server URL")
	pf.StringVar(&model, "model", "", "model name")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.StringVar(&logFormat, "log-format", "", "log format (console or json)")

	// Run flags are persistent so `ocrstream file.pdf` and
	// `ocrstream run file.pdf` accept the same surface.
	f := pf
	f.BoolVar(&noStream, "no-stream", false, "disable streaming (fetch the whole response at once)")
	f.StringVarP(&saveMode, "save-mode", "m", "", "flush granularity: token, word, sentence, paragraph, line")
	f.BoolVarP(&quiet, "quiet", "q", false, "do not echo extracted text")
	f.BoolVar(&showStats, "stats", false, "print processing statistics")
	f.BoolVar(&noSave, "no-save", false, "do not write an output file")
	f.BoolVar(&skipErrors, "skip-errors", false, "continue past pages that fail all retries")
	f.BoolVar(&resume, "resume", false, "resume from the checkpoint of a previous run")
	f.IntVar(&startPage, "start-page", 0, "first page to process (1-based)")
	f.IntVar(&endPage, "end-page", 0, "last page to process (1-based)")
	f.DurationVar(&pageTimeout, "timeout", 0, "per-page timeout budget (e.g. 120s)")
	f.IntVar(&maxTokens, "max-tokens", 0, "max output tokens per page")
	f.StringVarP(&outputPath, "output", "o", "", "output file path (default: derived from input)")
	f.IntVar(&dpi, "dpi", 0, "PDF rasterization resolution")
	f.IntVar(&quality, "quality", 0, "JPEG quality for rendered pages (1-100)")
	f.BoolVar(&noRepCheck, "no-repetition-check", false, "disable the degenerate-output detector")
}

// loadConfig builds the layered configuration: defaults < file < env <
// explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if model != "" {
		cfg.Server.Model = model
	}
	if cmd.Flags().Changed("no-stream") {
		cfg.Stream.Enabled = !noStream
	}
	if saveMode != "" {
		cfg.Stream.SaveMode = config.FlushMode(saveMode)
	}
	if cmd.Flags().Changed("quiet") {
		cfg.Run.Quiet = quiet
	}
	if cmd.Flags().Changed("stats") {
		cfg.Run.Stats = showStats
	}
	if cmd.Flags().Changed("no-save") {
		cfg.Output.Save = !noSave
	}
	if cmd.Flags().Changed("skip-errors") {
		cfg.Run.SkipErrors = skipErrors
	}
	if cmd.Flags().Changed("resume") {
		cfg.Run.Resume = resume
	}
	if startPage > 0 {
		cfg.Run.StartPage = startPage
	}
	if endPage > 0 {
		cfg.Run.EndPage = endPage
	}
	if pageTimeout > 0 {
		cfg.Stream.PageTimeout = pageTimeout
	}
	if maxTokens > 0 {
		cfg.Stream.MaxTokens = maxTokens
	}
	if outputPath != "" {
		cfg.Output.Path = outputPath
	}
	if dpi > 0 {
		cfg.Render.DPI = dpi
	}
	if quality > 0 {
		cfg.Render.Quality = quality
	}
	if cmd.Flags().Changed("no-repetition-check") {
		cfg.Repetition.Enabled = !noRepCheck
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

func initUI() {
	ui.Init(noColor)
}
