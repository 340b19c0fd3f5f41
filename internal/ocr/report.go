package ocr

import (
	"fmt"
	"strings"
	"time"

	"github.com/lightocr/ocrstream/internal/domain"
)

// PageReport holds per-page timing and outcome for the run summary.
type PageReport struct {
	Index       int
	Status      domain.PageStatus
	Attempts    int
	Elapsed     time.Duration
	Bytes       int
	Fragments   int
	Flushes     int
	TimeToFirst time.Duration
	Truncated   bool
	Error       string
}

// Report aggregates a whole document run. Pure aggregation: building a
// report has no side effects.
type Report struct {
	Source     string
	Output     string
	TotalPages int

	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Truncated int

	Elapsed     time.Duration
	OutputBytes int64
	Pages       []PageReport
}

// NewReport creates an empty report for a document.
func NewReport(source, output string, totalPages int) *Report {
	return &Report{
		Source:     source,
		Output:     output,
		TotalPages: totalPages,
	}
}

// Add records one page outcome and updates the aggregates.
func (r *Report) Add(p PageReport) {
	r.Pages = append(r.Pages, p)
	switch p.Status {
	case domain.StatusDone:
		r.Attempted++
		r.Succeeded++
		if p.Truncated {
			r.Truncated++
		}
	case domain.StatusFailed:
		r.Attempted++
		r.Failed++
	case domain.StatusSkipped:
		r.Skipped++
	}
	r.OutputBytes += int64(p.Bytes)
}

// Fragments returns the total number of content fragments across all pages.
func (r *Report) Fragments() int {
	total := 0
	for _, p := range r.Pages {
		total += p.Fragments
	}
	return total
}

// Retries returns the total number of extra attempts across all pages.
func (r *Report) Retries() int {
	total := 0
	for _, p := range r.Pages {
		if p.Attempts > 1 {
			total += p.Attempts - 1
		}
	}
	return total
}

// Summary renders a human-readable stats block.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pages: %d total, %d succeeded, %d failed, %d skipped\n",
		r.TotalPages, r.Succeeded, r.Failed, r.Skipped)
	if r.Truncated > 0 {
		fmt.Fprintf(&b, "Truncated by repetition detector: %d\n", r.Truncated)
	}
	if retries := r.Retries(); retries > 0 {
		fmt.Fprintf(&b, "Retries: %d\n", retries)
	}
	fmt.Fprintf(&b, "Output: %d bytes\n", r.OutputBytes)
	if tokens := r.Fragments(); tokens > 0 && r.Elapsed > 0 {
		fmt.Fprintf(&b, "Tokens: %d (%.1f/s)\n", tokens, float64(tokens)/r.Elapsed.Seconds())
	}
	fmt.Fprintf(&b, "Total time: %.2fs\n", r.Elapsed.Seconds())

	for _, p := range r.Pages {
		line := fmt.Sprintf("  page %d: %s (%.2fs, %d attempts", p.Index, p.Status, p.Elapsed.Seconds(), p.Attempts)
		if p.Fragments > 0 {
			line += fmt.Sprintf(", %d tokens, %d saves", p.Fragments, p.Flushes)
		}
		line += ")"
		if p.Error != "" {
			line += " - " + p.Error
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
