// Package ocr contains the page orchestrator: the sequential control loop
// that renders, submits, filters, accumulates and persists each page of a
// document, with page-level retry and resume-from-checkpoint.
package ocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightocr/ocrstream/internal/config"
	"github.com/lightocr/ocrstream/internal/domain"
	"github.com/lightocr/ocrstream/internal/imaging"
	"github.com/lightocr/ocrstream/internal/llm"
	"github.com/lightocr/ocrstream/internal/repeat"
	"github.com/lightocr/ocrstream/internal/runstate"
	"github.com/lightocr/ocrstream/internal/transcript"
)

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// Submitter is the slice of the inference client the orchestrator uses.
type Submitter interface {
	Submit(ctx context.Context, img *imaging.EncodedImage, prompt string, opts llm.Options) (llm.ChunkStream, error)
}

// Orchestrator drives per-page processing for one document run. Pages are
// processed strictly sequentially; the output file and checkpoint are
// append-only from this single control loop.
type Orchestrator struct {
	cfg    *config.Config
	client Submitter
	logger zerolog.Logger
	events chan<- domain.Event
}

// New creates an orchestrator. events may be nil when no progress
// notifications are wanted.
func New(cfg *config.Config, client Submitter, logger zerolog.Logger, events chan<- domain.Event) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "orchestrator").Logger(),
		events: events,
	}
}

// DeriveOutputPath returns the output file path for a source document: the
// configured path when set, otherwise the source path with a .md suffix.
// Save modes coarser than token keep the mode in the name so transcripts
// produced at different granularities do not overwrite each other.
func DeriveOutputPath(cfg *config.Config, sourcePath string) string {
	if cfg.Output.Path != "" {
		return cfg.Output.Path
	}
	ext := filepath.Ext(sourcePath)
	base := strings.TrimSuffix(sourcePath, ext)
	if cfg.Stream.Enabled && cfg.Stream.SaveMode != config.FlushToken {
		return fmt.Sprintf("%s.%s.md", base, cfg.Stream.SaveMode)
	}
	return base + ".md"
}

// Process runs the document through the pipeline and returns the run
// report. On a non-skip_errors failure the report built so far is returned
// together with the error; all previously flushed output remains on disk.
func (o *Orchestrator) Process(ctx context.Context, src imaging.Source, sourcePath string) (*Report, error) {
	start := time.Now()
	pageCount := src.PageCount()
	outputPath := DeriveOutputPath(o.cfg, sourcePath)
	report := NewReport(sourcePath, outputPath, pageCount)

	file, state, err := o.prepareOutput(sourcePath, outputPath, pageCount)
	if err != nil {
		return report, err
	}
	if file != nil {
		defer file.Close()
	}

	o.emit(domain.Event{Type: domain.EventStart, Total: pageCount})

	for index := 1; index <= pageCount; index++ {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}

		if skip, reason := o.shouldSkip(state, index); skip {
			o.logger.Debug().Int("page", index).Str("reason", reason).Msg("skipping page")
			report.Add(PageReport{Index: index, Status: domain.StatusSkipped})
			o.emit(domain.Event{Type: domain.EventPageSkipped, Page: index, Total: pageCount})
			continue
		}

		o.emit(domain.Event{Type: domain.EventPageStart, Page: index, Total: pageCount})
		page, pageErr := o.processPage(ctx, src, file, index, pageCount)
		report.Add(page)

		switch page.Status {
		case domain.StatusDone:
			if state != nil {
				if err := state.MarkDone(index); err != nil {
					report.Elapsed = time.Since(start)
					return report, err
				}
			}
			if file != nil && o.cfg.Output.PageHeaders && index < pageCount {
				if _, err := file.WriteString("\n\n---\n\n"); err != nil {
					report.Elapsed = time.Since(start)
					return report, domain.CheckpointError("write page separator", err)
				}
			}
			o.emit(domain.Event{Type: domain.EventPageDone, Page: index, Total: pageCount})

		case domain.StatusFailed:
			o.emit(domain.Event{Type: domain.EventPageFailed, Page: index, Total: pageCount, Err: pageErr})
			if !o.cfg.Run.SkipErrors {
				report.Elapsed = time.Since(start)
				return report, fmt.Errorf("page %d failed after %d attempts: %w", index, page.Attempts, pageErr)
			}
			if file != nil && o.cfg.Output.PageHeaders {
				marker := fmt.Sprintf("*[page %d failed: %s]*\n", index, page.Error)
				if index < pageCount {
					marker += "\n---\n\n"
				}
				if _, err := file.WriteString(marker); err != nil {
					report.Elapsed = time.Since(start)
					return report, domain.CheckpointError("write failure marker", err)
				}
			}
		}
	}

	report.Elapsed = time.Since(start)

	if file != nil && o.cfg.Output.Timing {
		footer := fmt.Sprintf("\n\n---\n\n**Total time**: %.2fs\n", report.Elapsed.Seconds())
		if _, err := file.WriteString(footer); err != nil {
			return report, domain.CheckpointError("write timing footer", err)
		}
	}
	if file != nil {
		if err := file.Sync(); err != nil {
			return report, domain.CheckpointError("sync output file", err)
		}
	}

	o.emit(domain.Event{Type: domain.EventComplete, Total: pageCount, Payload: report})
	return report, nil
}

// prepareOutput opens the output file and checkpoint. A fresh run truncates
// the output and writes the document header; a resumed run appends to both.
func (o *Orchestrator) prepareOutput(sourcePath, outputPath string, pageCount int) (*os.File, *runstate.State, error) {
	if !o.cfg.Output.Save {
		return nil, nil, nil
	}

	if o.cfg.Run.Resume && runstate.Exists(outputPath) {
		state, err := runstate.Load(outputPath)
		if err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, nil, domain.CheckpointError("open output file for resume", err)
		}
		o.logger.Info().Str("output", outputPath).Int("completed", state.DoneCount()).Msg("resuming from checkpoint")
		return file, state, nil
	}

	// Fresh run: any stale checkpoint is superseded.
	if err := runstate.Remove(outputPath); err != nil {
		return nil, nil, err
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, nil, domain.CheckpointError("create output file", err)
	}

	if o.cfg.Output.PageHeaders {
		mode := "buffered"
		if o.cfg.Stream.Enabled {
			mode = fmt.Sprintf("streaming - %s", o.cfg.Stream.SaveMode)
		}
		header := fmt.Sprintf("# OCR Results: %s\n\n", filepath.Base(sourcePath))
		if pageCount > 1 {
			header += fmt.Sprintf("**Pages**: %d\n", pageCount)
		}
		header += fmt.Sprintf("**Mode**: %s\n\n---\n\n", mode)
		if _, err := file.WriteString(header); err != nil {
			file.Close()
			return nil, nil, domain.CheckpointError("write document header", err)
		}
	}

	return file, runstate.New(sourcePath, outputPath, pageCount), nil
}

func (o *Orchestrator) shouldSkip(state *runstate.State, index int) (bool, string) {
	if o.cfg.Run.StartPage > 0 && index < o.cfg.Run.StartPage {
		return true, "before start page"
	}
	if o.cfg.Run.EndPage > 0 && index > o.cfg.Run.EndPage {
		return true, "after end page"
	}
	if state != nil && state.IsDone(index) {
		return true, "completed in previous run"
	}
	return false, ""
}

// processPage drives one page through up to max_retries+1 attempts. An
// abandoned attempt truncates the output back to the page start offset so
// the final file never contains duplicated partial pages.
func (o *Orchestrator) processPage(ctx context.Context, src imaging.Source, file *os.File, index, pageCount int) (PageReport, error) {
	page := PageReport{Index: index, Status: domain.StatusInProgress}
	pageStart := time.Now()
	maxAttempts := o.cfg.Run.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		page.Attempts = attempt

		offset, err := o.pageOffset(file)
		if err != nil {
			lastErr = err
			break
		}

		result, err := o.attemptPage(ctx, src, file, index, pageCount)
		if err == nil {
			page.Status = domain.StatusDone
			page.Elapsed = time.Since(pageStart)
			page.Bytes = len(result.text)
			page.Fragments = result.fragments
			page.Flushes = result.flushes
			page.TimeToFirst = result.timeToFirst
			page.Truncated = result.truncated
			return page, nil
		}

		lastErr = err
		if truncErr := o.truncateTo(file, offset); truncErr != nil {
			lastErr = truncErr
			break
		}
		if ctx.Err() != nil || !domain.IsRetryable(err) {
			break
		}
		if attempt < maxAttempts {
			o.logger.Warn().Int("page", index).Int("attempt", attempt).Err(err).Msg("page attempt failed, retrying")
			o.emit(domain.Event{Type: domain.EventPageRetrying, Page: index, Total: pageCount, Err: err})
			o.backoff(ctx, attempt)
		}
	}

	page.Status = domain.StatusFailed
	page.Elapsed = time.Since(pageStart)
	if lastErr != nil {
		page.Error = lastErr.Error()
	}
	o.logger.Error().Int("page", index).Int("attempts", page.Attempts).Str("error", page.Error).Msg("page failed")
	return page, lastErr
}

type attemptResult struct {
	text        string
	fragments   int
	flushes     int
	timeToFirst time.Duration
	truncated   bool
}

// attemptPage performs one attempt: render, submit, stream through the
// repetition detector into the accumulator, finalize. Detector-signaled
// termination is a soft success: the partial transcript is kept.
func (o *Orchestrator) attemptPage(ctx context.Context, src imaging.Source, file *os.File, index, pageCount int) (*attemptResult, error) {
	img, err := src.Render(ctx, index)
	if err != nil {
		return nil, err
	}

	if file != nil && o.cfg.Output.PageHeaders && pageCount > 1 {
		if _, err := file.WriteString(fmt.Sprintf("## Page %d\n\n", index)); err != nil {
			return nil, domain.CheckpointError("write page header", err)
		}
	}

	stream, err := o.client.Submit(ctx, img, o.pagePrompt(index, pageCount), llm.Options{
		Temperature: o.cfg.Stream.Temperature,
		MaxTokens:   o.cfg.Stream.MaxTokens,
		Stream:      o.cfg.Stream.Enabled,
		PageTimeout: o.cfg.Stream.PageTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	detector := repeat.New(repeat.Config{
		Enabled:       o.cfg.Repetition.Enabled,
		Window:        o.cfg.Repetition.Window,
		Threshold:     o.cfg.Repetition.Threshold,
		MaxNormalReps: o.cfg.Repetition.MaxNormalReps,
	})
	acc := transcript.New(file, o.cfg.Stream.SaveMode)

	truncated := false
	for {
		chunk, err := stream.Next()
		if err != nil {
			return nil, err
		}
		if chunk.Content != "" {
			if detector.Observe(chunk.Content) {
				o.logger.Warn().Int("page", index).Msg("repetition loop detected, stopping generation early")
				truncated = true
				break
			}
			if err := acc.Write(chunk.Content); err != nil {
				return nil, err
			}
			o.emit(domain.Event{Type: domain.EventChunk, Page: index, Total: pageCount, Content: chunk.Content})
		}
		if chunk.Done {
			break
		}
	}

	text, err := acc.Finalize()
	if err != nil {
		return nil, err
	}
	if o.cfg.Output.Normalize {
		// Normalization applies to the reported transcript only; flushed
		// file content is append-only and stays as written.
		text = transcript.Normalize(text)
	}

	return &attemptResult{
		text:        text,
		fragments:   acc.Fragments(),
		flushes:     acc.Flushes(),
		timeToFirst: acc.TimeToFirst(),
		truncated:   truncated,
	}, nil
}

func (o *Orchestrator) pagePrompt(index, pageCount int) string {
	if pageCount > 1 && o.cfg.Server.Prompt == config.Default().Server.Prompt {
		return fmt.Sprintf("Extract all text from page %d of this document.", index)
	}
	return o.cfg.Server.Prompt
}

func (o *Orchestrator) pageOffset(file *os.File) (int64, error) {
	if file == nil {
		return 0, nil
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, domain.CheckpointError("locate page offset", err)
	}
	return offset, nil
}

func (o *Orchestrator) truncateTo(file *os.File, offset int64) error {
	if file == nil {
		return nil
	}
	if err := file.Truncate(offset); err != nil {
		return domain.CheckpointError("discard partial page output", err)
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return domain.CheckpointError("reposition after discard", err)
	}
	return nil
}

func (o *Orchestrator) backoff(ctx context.Context, attempt int) {
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (o *Orchestrator) emit(ev domain.Event) {
	if o.events != nil {
		o.events <- ev
	}
}
