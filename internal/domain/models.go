package domain

import "time"

// PageStatus tracks where a page is in its processing lifecycle.
type PageStatus string

const (
	StatusPending    PageStatus = "pending"
	StatusInProgress PageStatus = "in_progress"
	StatusDone       PageStatus = "done"
	StatusFailed     PageStatus = "failed"
	StatusSkipped    PageStatus = "skipped"
)

// Document is an ordered sequence of pages from one input file.
// A standalone image is a Document of length 1.
type Document struct {
	SourcePath string
	OutputPath string
	PageCount  int
}

// Page is one unit of OCR work. Pages are processed strictly in index
// order; a page is finalized before the next one begins.
type Page struct {
	Index     int // 1-based
	Status    PageStatus
	Attempts  int
	Elapsed   time.Duration
	Text      string
	Truncated bool // repetition detector stopped generation early
	Err       error
}

// StreamChunk is one content delta from the inference endpoint. Chunks are
// consumed immediately by the accumulator and detector, never stored.
type StreamChunk struct {
	Content string
	Done    bool
}

// EventType identifies a progress event emitted during processing.
type EventType string

const (
	EventStart        EventType = "start"
	EventPageStart    EventType = "page_start"
	EventChunk        EventType = "chunk"
	EventPageDone     EventType = "page_done"
	EventPageFailed   EventType = "page_failed"
	EventPageSkipped  EventType = "page_skipped"
	EventPageRetrying EventType = "page_retrying"
	EventComplete     EventType = "complete"
)

// Event is a progress notification sent to the caller while a document is
// being processed.
type Event struct {
	Type    EventType
	Page    int
	Total   int
	Content string // chunk text for EventChunk
	Err     error
	Payload interface{} // *ocr.Report on EventComplete
}
