// Package ui provides terminal output helpers for the ocrstream CLI.
package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

// Init configures global UI behavior.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// Success prints a green status line to stderr.
func Success(format string, a ...interface{}) {
	green.Fprintf(os.Stderr, "✓ "+format+"\n", a...)
}

// Error prints a red status line to stderr.
func Error(format string, a ...interface{}) {
	red.Fprintf(os.Stderr, "✗ "+format+"\n", a...)
}

// Warn prints a yellow status line to stderr.
func Warn(format string, a ...interface{}) {
	yellow.Fprintf(os.Stderr, "! "+format+"\n", a...)
}

// Info prints a neutral status line to stderr.
func Info(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
}

// Section prints a cyan section heading to stderr.
func Section(title string) {
	cyan.Fprintf(os.Stderr, "\n%s\n", title)
}

// NewSpinner creates a spinner with the given message, writing to stderr.
func NewSpinner(message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return s
}

// NewPageBar creates a progress bar over the pages of one document.
func NewPageBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}
