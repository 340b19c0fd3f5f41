// Package transcript accumulates streamed OCR text and persists it with a
// configurable flush granularity, so a crash mid-page loses at most the
// unflushed tail.
package transcript

import (
	"os"
	"strings"
	"time"

	"github.com/lightocr/ocrstream/internal/config"
	"github.com/lightocr/ocrstream/internal/domain"
)

// Accumulator consumes content fragments and maintains the growing page
// transcript. Writes to the output file are append-only: flushed text is
// never rewritten.
type Accumulator struct {
	mode config.FlushMode
	file *os.File // nil when persisting is disabled

	full    strings.Builder
	pending strings.Builder

	fragments int
	flushes   int
	startedAt time.Time
	firstAt   time.Time
}

// New creates an accumulator writing completed units to file. A nil file
// keeps the transcript in memory only.
func New(file *os.File, mode config.FlushMode) *Accumulator {
	return &Accumulator{
		mode:      mode,
		file:      file,
		startedAt: time.Now(),
	}
}

// Write appends one fragment to the transcript and flushes the pending
// buffer when it contains a completed unit for the configured granularity.
func (a *Accumulator) Write(fragment string) error {
	if fragment == "" {
		return nil
	}
	if a.firstAt.IsZero() {
		a.firstAt = time.Now()
	}
	a.fragments++
	a.full.WriteString(fragment)

	if a.file == nil {
		return nil
	}

	a.pending.WriteString(fragment)
	if shouldFlush(a.pending.String(), a.mode) {
		return a.flush()
	}
	return nil
}

// Finalize flushes the remaining tail and returns the full in-memory
// transcript, regardless of flush granularity.
func (a *Accumulator) Finalize() (string, error) {
	if a.file != nil && a.pending.Len() > 0 {
		if err := a.flush(); err != nil {
			return "", err
		}
	}
	return a.full.String(), nil
}

// Fragments returns the number of non-empty fragments consumed.
func (a *Accumulator) Fragments() int { return a.fragments }

// Flushes returns the number of durable writes performed.
func (a *Accumulator) Flushes() int { return a.flushes }

// TimeToFirst returns the delay before the first fragment arrived, or zero
// when nothing arrived.
func (a *Accumulator) TimeToFirst() time.Duration {
	if a.firstAt.IsZero() {
		return 0
	}
	return a.firstAt.Sub(a.startedAt)
}

func (a *Accumulator) flush() error {
	if _, err := a.file.WriteString(a.pending.String()); err != nil {
		return domain.CheckpointError("flush transcript", err)
	}
	// Token mode additionally syncs to disk per unit; coarser modes rely on
	// the kernel write.
	if a.mode == config.FlushToken {
		if err := a.file.Sync(); err != nil {
			return domain.CheckpointError("sync transcript", err)
		}
	}
	a.flushes++
	a.pending.Reset()
	return nil
}

var sentenceBoundaries = []string{". ", ".\n", "! ", "!\n", "? ", "?\n", "。", "；"}

// shouldFlush reports whether the pending buffer contains a completed unit
// for the given granularity.
func shouldFlush(buffer string, mode config.FlushMode) bool {
	switch mode {
	case config.FlushToken:
		return true
	case config.FlushWord:
		return strings.ContainsAny(buffer, " \n\t")
	case config.FlushSentence:
		for _, b := range sentenceBoundaries {
			if strings.Contains(buffer, b) {
				return true
			}
		}
		return false
	case config.FlushParagraph:
		return strings.Contains(buffer, "\n\n") || strings.Count(buffer, "\n") >= 2
	case config.FlushLine:
		return strings.Contains(buffer, "\n")
	}
	return false
}
