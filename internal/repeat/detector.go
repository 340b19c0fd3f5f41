// Package repeat detects degenerate looping output from vision-language
// models. Small models are prone to repeating a phrase forever on blank or
// low-information pages; the detector recognizes the loop from a sliding
// window of recent tokens and signals early termination instead of letting
// generation run to the max-token budget.
package repeat

import "strings"

// State is the detector's position in its lifecycle.
type State int

const (
	// Collecting means the window is not yet full; no score can be computed.
	Collecting State = iota
	// Monitoring means the window is full and scores are being evaluated.
	Monitoring
	// Terminated means a loop was confirmed and generation should stop.
	Terminated
)

// Config holds detector tuning.
type Config struct {
	Enabled       bool
	Window        int     // token window size W
	Threshold     float64 // similarity threshold T in (0, 1]
	MaxNormalReps int     // consecutive high-similarity windows tolerated
}

// Detector maintains a bounded window of the most recent text units and
// compares its two halves for near-identical content. The window-halves
// comparison tolerates token-boundary jitter that an exact substring match
// would miss. Scoped to one page; create a fresh detector per attempt.
type Detector struct {
	cfg     Config
	window  []string
	start   int // ring buffer head
	count   int
	repeats int
	state   State
}

// New creates a detector. A disabled detector is a pass-through that never
// signals.
func New(cfg Config) *Detector {
	if cfg.Window < 2 {
		cfg.Window = 2
	}
	return &Detector{
		cfg:    cfg,
		window: make([]string, cfg.Window),
	}
}

// Observe feeds one content fragment to the detector and reports whether
// generation should terminate. Fragments are split into word-like units;
// each unit advances the window and, once the window is full, updates the
// consecutive-repeat counter.
func (d *Detector) Observe(fragment string) bool {
	if !d.cfg.Enabled || d.state == Terminated {
		return d.state == Terminated
	}

	for _, unit := range strings.Fields(fragment) {
		d.push(unit)
		if d.count < d.cfg.Window {
			continue // cannot evaluate an incomplete window
		}
		d.state = Monitoring

		if d.score() >= d.cfg.Threshold {
			d.repeats++
			if d.repeats > d.cfg.MaxNormalReps {
				d.state = Terminated
				return true
			}
		} else {
			d.repeats = 0
		}
	}
	return false
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	return d.state
}

// push appends a unit to the ring window, evicting the oldest beyond W.
func (d *Detector) push(unit string) {
	if d.count < d.cfg.Window {
		d.window[(d.start+d.count)%d.cfg.Window] = unit
		d.count++
		return
	}
	d.window[d.start] = unit
	d.start = (d.start + 1) % d.cfg.Window
}

// score computes the normalized bag-of-units overlap between the first and
// second halves of the window. 1.0 means the halves contain the same units;
// the measure is monotonic in the repeated-content fraction.
func (d *Detector) score() float64 {
	half := d.count / 2
	if half == 0 {
		return 0
	}

	counts := make(map[string]int, half)
	for i := 0; i < half; i++ {
		counts[d.at(i)]++
	}

	overlap := 0
	for i := half; i < d.count; i++ {
		unit := d.at(i)
		if counts[unit] > 0 {
			counts[unit]--
			overlap++
		}
	}

	return float64(overlap) / float64(d.count-half)
}

// at returns the i-th oldest unit in the window.
func (d *Detector) at(i int) string {
	return d.window[(d.start+i)%d.cfg.Window]
}
