package repeat

import (
	"fmt"
	"strings"
	"testing"
)

func defaultConfig() Config {
	return Config{
		Enabled:       true,
		Window:        50,
		Threshold:     0.8,
		MaxNormalReps: 5,
	}
}

func TestDetectorNeverSignalsBeforeWindowFull(t *testing.T) {
	for _, window := range []int{2, 4, 10, 50} {
		for _, threshold := range []float64{0.1, 0.5, 0.8, 1.0} {
			t.Run(fmt.Sprintf("W=%d_T=%.1f", window, threshold), func(t *testing.T) {
				d := New(Config{
					Enabled:       true,
					Window:        window,
					Threshold:     threshold,
					MaxNormalReps: 1,
				})

				// Feed W-1 identical units: the most repetitive possible
				// input, but the window is never full.
				for i := 0; i < window-1; i++ {
					if d.Observe("loop") {
						t.Fatalf("detector signaled after %d units with window %d", i+1, window)
					}
				}
				if d.State() != Collecting {
					t.Errorf("expected Collecting before window full, got %v", d.State())
				}
			})
		}
	}
}

func TestDetectorTerminatesOnLoop(t *testing.T) {
	d := New(defaultConfig())

	terminated := false
	units := 0
	for i := 0; i < 500; i++ {
		if d.Observe("loop ") {
			terminated = true
			break
		}
		units++
	}

	if !terminated {
		t.Fatal("detector never signaled on a pure repetition stream")
	}
	if d.State() != Terminated {
		t.Errorf("expected Terminated, got %v", d.State())
	}
	// Must fire shortly after the window fills plus the tolerated repeats,
	// not run to the end of the stream.
	if units > 2*50+10 {
		t.Errorf("termination came too late: %d units", units)
	}
}

func TestDetectorDoesNotTerminateOnVariedText(t *testing.T) {
	d := New(defaultConfig())

	for i := 0; i < 1000; i++ {
		if d.Observe(fmt.Sprintf("word%d ", i)) {
			t.Fatalf("detector signaled on non-repeating text at unit %d", i)
		}
	}
	if d.State() == Terminated {
		t.Error("detector terminated on varied text")
	}
}

func TestDetectorCounterResetsOnNormalText(t *testing.T) {
	cfg := defaultConfig()
	cfg.Window = 10
	cfg.MaxNormalReps = 3
	d := New(cfg)

	// Alternate short repetitive bursts with fresh content; the bursts are
	// shorter than the tolerance so the counter must keep resetting.
	unique := 0
	for cycle := 0; cycle < 50; cycle++ {
		for i := 0; i < 2; i++ {
			if d.Observe("loop") {
				t.Fatalf("detector signaled during short burst, cycle %d", cycle)
			}
		}
		for i := 0; i < 10; i++ {
			unique++
			if d.Observe(fmt.Sprintf("fresh%d", unique)) {
				t.Fatalf("detector signaled on fresh content, cycle %d", cycle)
			}
		}
	}
}

func TestDetectorDisabledIsPassThrough(t *testing.T) {
	cfg := defaultConfig()
	cfg.Enabled = false
	d := New(cfg)

	for i := 0; i < 1000; i++ {
		if d.Observe("loop ") {
			t.Fatal("disabled detector must never signal")
		}
	}
	if d.State() != Collecting {
		t.Errorf("disabled detector should stay in Collecting, got %v", d.State())
	}
}

func TestDetectorToleratesTokenBoundaryJitter(t *testing.T) {
	// The same phrase arrives with varying fragment boundaries, the way a
	// model emits subword chunks. The half-window comparison should still
	// catch the loop.
	cfg := defaultConfig()
	cfg.Window = 20
	d := New(cfg)

	phrase := "the quick brown fox "
	fragments := []string{"the qu", "ick brown ", "fox ", "the ", "quick br", "own fox "}

	terminated := false
	for i := 0; i < 100 && !terminated; i++ {
		for _, f := range fragments {
			if d.Observe(f) {
				terminated = true
				break
			}
		}
	}
	if !terminated {
		t.Fatalf("detector missed repeated phrase %q with jittered boundaries", phrase)
	}
}

func TestDetectorStateTransitions(t *testing.T) {
	cfg := defaultConfig()
	cfg.Window = 4
	cfg.MaxNormalReps = 1
	d := New(cfg)

	if d.State() != Collecting {
		t.Fatalf("new detector should be Collecting, got %v", d.State())
	}

	d.Observe("a b c d")
	if d.State() != Monitoring {
		t.Fatalf("full window should move to Monitoring, got %v", d.State())
	}

	for i := 0; i < 20; i++ {
		if d.Observe("x x x x") {
			break
		}
	}
	if d.State() != Terminated {
		t.Fatalf("loop should move to Terminated, got %v", d.State())
	}

	// Once terminated the detector stays terminated.
	if !d.Observe("completely new content here") {
		t.Error("terminated detector should keep reporting termination")
	}
}

func TestScoreMonotonicInRepeatedFraction(t *testing.T) {
	// Build windows with increasing repeated-content fraction and check the
	// score never decreases.
	prev := -1.0
	for repeated := 0; repeated <= 5; repeated++ {
		d := New(Config{Enabled: true, Window: 10, Threshold: 2, MaxNormalReps: 1000})

		var units []string
		for i := 0; i < 5; i++ {
			units = append(units, fmt.Sprintf("first%d", i))
		}
		for i := 0; i < 5-repeated; i++ {
			units = append(units, fmt.Sprintf("second%d", i))
		}
		for i := 0; i < repeated; i++ {
			units = append(units, fmt.Sprintf("first%d", i))
		}

		d.Observe(strings.Join(units, " "))
		score := d.score()
		if score < prev {
			t.Errorf("score decreased as repeated fraction grew: %g -> %g at %d repeats", prev, score, repeated)
		}
		prev = score
	}
	if prev != 1.0 {
		t.Errorf("fully repeated halves should score 1.0, got %g", prev)
	}
}
