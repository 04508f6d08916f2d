// Package progress implements the Progress Detector component (spec.md
// §4.G): doom-loop detection, phase transitions, exploration saturation,
// and stuckness, all derived from the stream of tool calls the scheduler
// observes.
//
// Grounded on internal/usage/usage.go's ring-buffer/stable-serialization
// idiom (recent-calls bookkeeping) and the ProgressState/PhaseState/
// LoopState shapes described in spec.md §3. The Detector feeds
// internal/clock.ProgressSignal so Budget's Verdict algorithm can fold in
// doom-loop/exploration/stuck signals without internal/clock importing this
// package (avoids an import cycle; clock only needs the narrow signal).
package progress

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/agentkit/runtime/internal/clock"
)

// ringSize is the fixed length of the recent tool-call ring buffer (spec.md
// §3/§9: "deliberately a bounded queue of length 10").
const ringSize = 10

// Phase mirrors spec.md §3 PhaseState.phase.
type Phase string

const (
	PhaseExploring Phase = "exploring"
	PhasePlanning  Phase = "planning"
	PhaseActing    Phase = "acting"
	PhaseVerifying Phase = "verifying"
)

// call is one entry of the recent-calls ring buffer.
type call struct {
	tool string
	args string // stable-stringified arguments
	ts   time.Time
}

// StableArgs canonically encodes a tool call's arguments (sorted keys, no
// whitespace) so argument-order differences never defeat doom-loop
// comparison (spec.md §9 "Stable argument serialization").
func StableArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]any, len(args))
	for _, k := range keys {
		ordered[k] = args[k]
	}
	// json.Marshal of a map always sorts keys lexicographically in Go, so
	// re-marshaling the already-sorted copy is for documentation clarity,
	// not correctness.
	b, err := json.Marshal(ordered)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Detector owns one thread's ProgressState/PhaseState/LoopState and emits
// doom_loop.detected / phase.transition / exploration.saturation onto an
// events.Bus.
//
// Not safe for concurrent use; the scheduler observes tool calls
// sequentially within one run and owns exactly one Detector per thread.
type Detector struct {
	sink eventSink

	ring        [ringSize]call
	ringLen     int
	ringHead    int // index of the most recently written entry

	filesRead     map[string]struct{}
	filesModified map[string]struct{}
	commandsRun   []string

	lastMeaningfulProgress time.Time
	startedAt              time.Time
	stuckCount             int

	doomLoopDetected  bool
	doomLoopTool      string
	doomLoopCount     int
	doomLoopThreshold int

	phase                Phase
	iterationsInPhase    int
	recentNewFiles       int
	uniqueFilesReadSet   map[string]struct{} // reset per phase, for exploration-phase counting
	phaseModifiedCount   int
	shouldTransition     bool
	explorationSaturated bool

	iterations int
}

type eventSink interface {
	Emit(name string, data any)
}

type noopSink struct{}

func (noopSink) Emit(string, any) {}

// New creates a Detector starting in the exploring phase.
func New() *Detector {
	now := time.Now()
	return &Detector{
		sink:               noopSink{},
		filesRead:          make(map[string]struct{}),
		filesModified:      make(map[string]struct{}),
		uniqueFilesReadSet: make(map[string]struct{}),
		startedAt:          now,
		lastMeaningfulProgress: now,
		doomLoopThreshold:  3,
		phase:              PhaseExploring,
	}
}

// SetEventSink installs the bus that doom_loop.detected / phase.transition /
// exploration.saturation are emitted onto.
func (d *Detector) SetEventSink(sink eventSink) {
	if sink == nil {
		sink = noopSink{}
	}
	d.sink = sink
}

// ObserveToolCall records one dispatched tool call (spec.md §4.A
// recordToolCall drives this). path is the filesystem path the call acted
// on, if any (empty for non-file tools); isWrite marks write_file/edit_file-
// class calls; command is the raw shell command for bash-class calls.
type ToolObservation struct {
	Tool     string
	Args     map[string]any
	Path     string
	IsWrite  bool
	IsRead   bool
	Command  string
}

// Observe updates ring-buffer, doom-loop, file-tracking, phase, and
// stuckness state for one tool call, in that order, matching spec.md §4.G's
// per-call pipeline.
func (d *Detector) Observe(obs ToolObservation) {
	d.iterations++
	d.iterationsInPhase++

	stable := StableArgs(obs.Args)
	d.pushRing(call{tool: obs.Tool, args: stable, ts: time.Now()})
	d.updateDoomLoop()

	madeProgress := false
	if obs.IsRead && obs.Path != "" {
		if _, seen := d.filesRead[obs.Path]; !seen {
			d.filesRead[obs.Path] = struct{}{}
			if d.iterations <= 5 {
				madeProgress = true
			}
		}
		if _, seen := d.uniqueFilesReadSet[obs.Path]; !seen {
			d.uniqueFilesReadSet[obs.Path] = struct{}{}
			d.recentNewFiles++
		}
	}
	if obs.IsWrite && obs.Path != "" {
		if _, seen := d.filesModified[obs.Path]; !seen {
			d.filesModified[obs.Path] = struct{}{}
		}
		d.phaseModifiedCount++
		madeProgress = true
	}
	if obs.Command != "" {
		d.commandsRun = append(d.commandsRun, obs.Command)
		madeProgress = true
	}

	d.updatePhase(obs)
	d.updateExplorationSaturation()

	if madeProgress {
		d.lastMeaningfulProgress = time.Now()
		d.stuckCount = 0
	}
}

func (d *Detector) pushRing(c call) {
	d.ringHead = (d.ringHead + 1) % ringSize
	d.ring[d.ringHead] = c
	if d.ringLen < ringSize {
		d.ringLen++
	}
}

// recentAt returns the i-th most recent entry (0 = most recent). Caller
// must ensure i < ringLen.
func (d *Detector) recentAt(i int) call {
	idx := (d.ringHead - i + ringSize) % ringSize
	return d.ring[idx]
}

// updateDoomLoop scans the ring from the tail, counting consecutive
// entries matching the most recent call's (tool, args) pair (spec.md §4.G,
// P3). The doom_loop.detected event fires exactly once per detection edge:
// when the count first reaches the threshold, not on every subsequent call.
func (d *Detector) updateDoomLoop() {
	if d.ringLen == 0 {
		return
	}
	head := d.recentAt(0)
	count := 0
	for i := 0; i < d.ringLen; i++ {
		c := d.recentAt(i)
		if c.tool != head.tool || c.args != head.args {
			break
		}
		count++
	}

	wasDetected := d.doomLoopDetected
	stillSame := d.doomLoopTool == head.tool && d.doomLoopDetected
	d.doomLoopCount = count

	if count >= d.doomLoopThreshold {
		if !wasDetected || !stillSame {
			// Edge: count just crossed the threshold for this (tool,args).
			d.sink.Emit("doom_loop.detected", DoomLoopEvent{Tool: head.tool, Count: count})
		}
		d.doomLoopDetected = true
		d.doomLoopTool = head.tool
		return
	}

	// Count dropped below threshold (a different call reset the streak).
	d.doomLoopDetected = false
	d.doomLoopTool = ""
}

// DoomLoopEvent is the payload of doom_loop.detected.
type DoomLoopEvent struct {
	Tool  string
	Count int
}

// PhaseTransitionEvent is the payload of phase.transition.
type PhaseTransitionEvent struct {
	From Phase
	To   Phase
}

func (d *Detector) updatePhase(obs ToolObservation) {
	from := d.phase

	switch d.phase {
	case PhaseExploring, PhasePlanning:
		if obs.IsWrite {
			d.transitionTo(PhaseActing)
			return
		}
	case PhaseActing:
		if isTestCommand(obs.Command) && d.phaseModifiedCount > 0 {
			d.transitionTo(PhaseVerifying)
			return
		}
	}
	_ = from
}

func isTestCommand(cmd string) bool {
	if cmd == "" {
		return false
	}
	patterns := []string{"test", "pytest", "npm test", "jest"}
	for _, p := range patterns {
		if containsFold(cmd, p) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	// Small local case-insensitive substring search; avoids pulling in
	// strings.ToLower allocation churn on the scheduler's hot path.
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		match := true
		for j := 0; j < m; j++ {
			a, b := s[i+j], substr[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// transitionTo moves to a new phase, resetting per-phase counters and
// emitting phase.transition (spec.md §4.G: "Transitions reset
// iterationsInPhase and recentNewFiles to 0").
func (d *Detector) transitionTo(to Phase) {
	from := d.phase
	if from == to {
		return
	}
	d.phase = to
	d.iterationsInPhase = 0
	d.recentNewFiles = 0
	d.phaseModifiedCount = 0
	d.uniqueFilesReadSet = make(map[string]struct{})
	d.shouldTransition = false
	d.explorationSaturated = false
	d.sink.Emit("phase.transition", PhaseTransitionEvent{From: from, To: to})
}

// ExplorationSaturationEvent is the payload of exploration.saturation.
type ExplorationSaturationEvent struct {
	UniqueFilesRead   int
	IterationsInPhase int
}

// updateExplorationSaturation implements spec.md §4.G / P4: only checked in
// the exploring phase, emitted once at the transition edge.
func (d *Detector) updateExplorationSaturation() {
	if d.phase != PhaseExploring {
		return
	}
	unique := len(d.uniqueFilesReadSet)
	saturated := (unique >= 10 && d.phaseModifiedCount == 0) ||
		(d.iterationsInPhase >= 5 && d.recentNewFiles < 2 && d.phaseModifiedCount == 0)

	if saturated && !d.explorationSaturated {
		d.sink.Emit("exploration.saturation", ExplorationSaturationEvent{
			UniqueFilesRead:   unique,
			IterationsInPhase: d.iterationsInPhase,
		})
	}
	d.explorationSaturated = saturated
	d.shouldTransition = saturated
}

// IsStuck implements spec.md §4.G: true when the last 3 recent calls are
// identical, or when more than 60s of effective duration have elapsed since
// lastMeaningfulProgress with at least 5 iterations observed. effectiveNow
// is supplied by the caller (the scheduler, via clock.Budget's paused-aware
// clock) so stuckness accounting respects subagent pause spans.
func (d *Detector) IsStuck(effectiveNow time.Time) bool {
	identical := d.ringLen >= 3
	if identical {
		head := d.recentAt(0)
		for i := 1; i < 3; i++ {
			c := d.recentAt(i)
			if c.tool != head.tool || c.args != head.args {
				identical = false
				break
			}
		}
	}

	timedOut := d.iterations >= 5 && effectiveNow.Sub(d.lastMeaningfulProgress) > 60*time.Second

	stuck := identical || timedOut
	if stuck {
		d.stuckCount++
		d.sink.Emit("progress.stuck", StuckEvent{Count: d.stuckCount})
	} else if d.stuckCount > 0 {
		d.sink.Emit("progress.made", struct{}{})
	}
	return stuck
}

// StuckEvent is the payload of progress.stuck.
type StuckEvent struct {
	Count int
}

// Signal builds the clock.ProgressSignal the scheduler passes into
// Budget.CheckBudget, decoupling internal/clock from this package.
func (d *Detector) Signal() clock.ProgressSignal {
	return clock.ProgressSignal{
		DoomLoopDetected:     d.doomLoopDetected,
		DoomLoopTool:         d.doomLoopTool,
		DoomLoopCount:        d.doomLoopCount,
		ExplorationSaturated: d.explorationSaturated,
		UniqueFilesRead:      len(d.uniqueFilesReadSet),
		IterationsInPhase:    d.iterationsInPhase,
		StuckCount:           d.stuckCount,
	}
}

// Phase returns the current phase.
func (d *Detector) Phase() Phase { return d.phase }

// FilesRead returns the set of distinct paths read so far, for UI/state
// export (spec.md §3 ProgressState.filesRead).
func (d *Detector) FilesRead() []string { return keys(d.filesRead) }

// FilesModified returns the set of distinct paths modified so far
// (spec.md §3 ProgressState.filesModified).
func (d *Detector) FilesModified() []string { return keys(d.filesModified) }

// CommandsRun returns every shell command observed, in order
// (spec.md §3 ProgressState.commandsRun).
func (d *Detector) CommandsRun() []string {
	out := make([]string, len(d.commandsRun))
	copy(out, d.commandsRun)
	return out
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
