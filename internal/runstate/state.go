// Package runstate persists the resume checkpoint for one document: the set
// of page indices already completed. The record is monotonic — indices are
// only ever added — and is rewritten atomically via a temp file so a crash
// mid-write cannot corrupt it. Concurrent resumed runs against the same
// document are not coordinated.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lightocr/ocrstream/internal/domain"
)

// StateSuffix is appended to the output path to form the sidecar path.
const StateSuffix = ".state.json"

// State is the durable record of completed pages for one document run.
type State struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Output    string    `json:"output"`
	PageCount int       `json:"page_count"`
	Completed []int     `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`

	path string
	done map[int]bool
}

// PathFor returns the sidecar path for an output file.
func PathFor(outputPath string) string {
	return outputPath + StateSuffix
}

// New creates a fresh state for a document run.
func New(source, output string, pageCount int) *State {
	return &State{
		RunID:     uuid.NewString(),
		Source:    source,
		Output:    output,
		PageCount: pageCount,
		path:      PathFor(output),
		done:      make(map[int]bool),
	}
}

// Load reads an existing checkpoint from the sidecar of outputPath.
func Load(outputPath string) (*State, error) {
	path := PathFor(outputPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.CheckpointError(fmt.Sprintf("read checkpoint %s", path), err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, domain.CheckpointError(fmt.Sprintf("parse checkpoint %s", path), err)
	}

	st.path = path
	st.done = make(map[int]bool, len(st.Completed))
	for _, idx := range st.Completed {
		st.done[idx] = true
	}
	return &st, nil
}

// Exists reports whether a checkpoint sidecar exists for outputPath.
func Exists(outputPath string) bool {
	_, err := os.Stat(PathFor(outputPath))
	return err == nil
}

// IsDone reports whether a page index is recorded as completed.
func (s *State) IsDone(index int) bool {
	return s.done[index]
}

// DoneCount returns how many pages are recorded as completed.
func (s *State) DoneCount() int {
	return len(s.done)
}

// MarkDone records a page index as completed and persists the checkpoint.
// Adding an already-recorded index is a no-op.
func (s *State) MarkDone(index int) error {
	if s.done[index] {
		return nil
	}
	s.done[index] = true
	s.Completed = append(s.Completed, index)
	sort.Ints(s.Completed)
	return s.save()
}

// save rewrites the sidecar atomically: write to a temp file in the same
// directory, then rename over the old checkpoint.
func (s *State) save() error {
	s.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return domain.CheckpointError("encode checkpoint", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ocrstream-state-*")
	if err != nil {
		return domain.CheckpointError("create checkpoint temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.CheckpointError("write checkpoint", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.CheckpointError("sync checkpoint", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.CheckpointError("close checkpoint", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return domain.CheckpointError("replace checkpoint", err)
	}
	return nil
}

// Remove deletes the sidecar. Used when a run starts fresh over an old
// checkpoint without --resume.
func Remove(outputPath string) error {
	err := os.Remove(PathFor(outputPath))
	if err != nil && !os.IsNotExist(err) {
		return domain.CheckpointError("remove checkpoint", err)
	}
	return nil
}
