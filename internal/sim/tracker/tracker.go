// Package tracker pinpoints the first position at which two otherwise
// identical simulation runs diverge.
//
// Every validation checkpoint reached while a session is active advances that
// session's position counter. Positions inside the verification window that
// land on the stride are fully verified: the first run to reach a position
// records the live serialized state as ground truth, later runs compare
// against it. On a mismatch the window shrinks around the failing position
// and the stride tightens, so repeated runs converge on the exact checkpoint
// where the executions disagree.
package tracker

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
)

const (
	defaultEnd  = 2000000000
	defaultStep = 100000

	// maxRecords bounds the ground-truth table. Exceeding it means the
	// verification window is far too wide, which makes the whole exercise
	// meaningless; there is no recovery path.
	maxRecords = 100000
)

// ErrTooManyRecords reports a misconfigured (too wide) verification window.
var ErrTooManyRecords = errors.New("tracker: too many recorded positions")

// ErrFingerprintMismatch reports that two runs took different code paths at
// the same position. Unlike a state mismatch this cannot be narrowed any
// further; the runs are structurally different.
var ErrFingerprintMismatch = errors.New("tracker: checkpoint fingerprint mismatch")

// Target is the live simulation under verification.
type Target interface {
	// Ready reports whether there is state worth verifying yet. Checkpoints
	// reached before the match exists are counted but not verified.
	Ready() bool
	// CaptureState serializes the complete mutable state.
	CaptureState() ([]byte, error)
	// RestoreState applies a previously captured state, re-aligning the live
	// run with the recorded ground truth at fine stride.
	RestoreState([]byte) error
}

type record struct {
	pos         int
	fingerprint uint64
	state       []byte
}

// sessionState carries one logical execution stream: its monotone position
// counter and the rolling hash over the checkpoint call sites it reached.
type sessionState struct {
	pos         int
	fingerprint uint64
}

// Tracker records per-position snapshots across named sessions and narrows a
// divergence window via iterative bisection. One tracker may be shared by
// several environment instances (each stepping under its own session), which
// is why the verification target travels with every checkpoint call instead
// of being bound once. Not safe for concurrent use.
type Tracker struct {
	inProgress bool
	session    int
	start      int
	end        int
	step       int
	failurePos int

	// records is kept ordered by position; positions grow monotonically
	// within a run, so inserts are appends except right after the window
	// shrinks.
	records  []record
	sessions map[int]*sessionState
}

func New() *Tracker {
	t := &Tracker{}
	t.resetWindow()
	t.session = -1
	t.failurePos = -1
	t.sessions = make(map[int]*sessionState)
	return t
}

// fnvOffset is the FNV-1a offset basis, the fingerprint of an empty path.
const fnvOffset = 0xcbf29ce484222325

// SetSession activates verification for a logical session, lazily starting
// its position counter only if the session has not been seen before.
func (t *Tracker) SetSession(id int) {
	t.session = id
	if _, ok := t.sessions[id]; !ok {
		t.sessions[id] = &sessionState{pos: -1, fingerprint: fnvOffset}
	}
}

// Session returns the active session id, -1 when tracking is disabled.
func (t *Tracker) Session() int { return t.session }

// Disable turns off tracking without losing recorded history.
func (t *Tracker) Disable() {
	t.session = -1
}

// Reset clears the window to its defaults and drops all recorded snapshots,
// fingerprints and session counters.
func (t *Tracker) Reset() {
	t.resetWindow()
	t.session = -1
	t.failurePos = -1
	t.records = nil
	t.sessions = make(map[int]*sessionState)
}

func (t *Tracker) resetWindow() {
	t.start = 0
	t.end = defaultEnd
	t.step = defaultStep
}

// SetWindow overrides the verification window, for harnesses that already
// know roughly where the divergence lives.
func (t *Tracker) SetWindow(start, end, step int) {
	if start < 0 {
		start = 0
	}
	if step < 1 {
		step = 1
	}
	t.start, t.end, t.step = start, end, step
}

// Window returns the current [start,end] bounds and stride.
func (t *Tracker) Window() (start, end, step int) {
	return t.start, t.end, t.step
}

// Failure reports whether any verified position has diverged.
func (t *Tracker) Failure() bool { return t.failurePos >= 0 }

// FailurePos returns the smallest diverging position seen so far, or -1.
func (t *Tracker) FailurePos() int { return t.failurePos }

// Checkpoint is the designated validation point. site identifies the calling
// code location and feeds the control-flow fingerprint. The fast path (no
// active session, or a position outside the window) is a counter bump.
//
// Verification serializes the whole context, which itself reaches further
// checkpoints; the in-progress guard short-circuits those nested calls.
func (t *Tracker) Checkpoint(site string, target Target) error {
	if t.inProgress || t.session == -1 {
		return nil
	}
	ss := t.sessions[t.session]
	ss.fingerprint = mixSite(ss.fingerprint, site)
	ss.pos++
	pos := ss.pos
	if pos < t.start || pos > t.end || pos%t.step != 0 {
		return nil
	}
	t.inProgress = true
	defer func() { t.inProgress = false }()
	return t.verify(target, pos, ss.fingerprint)
}

func mixSite(fp uint64, site string) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(fp >> (8 * i))
	}
	h.Write(b[:])
	h.Write([]byte(site))
	return h.Sum64()
}

func (t *Tracker) verify(target Target, pos int, fingerprint uint64) error {
	if target == nil || !target.Ready() {
		return nil
	}

	idx, found := t.lookup(pos)
	if !found {
		if len(t.records) >= maxRecords {
			return fmt.Errorf("%w: %d at position %d (window [%d,%d] step %d)",
				ErrTooManyRecords, len(t.records), pos, t.start, t.end, t.step)
		}
		state, err := target.CaptureState()
		if err != nil {
			return err
		}
		t.insert(idx, record{pos: pos, fingerprint: fingerprint, state: state})
		return nil
	}

	// Already failing earlier: anything at or past the known failure adds no
	// information.
	if t.failurePos != -1 && t.failurePos <= pos {
		return nil
	}

	rec := t.records[idx]
	mismatch := false
	if fingerprint != rec.fingerprint {
		if t.step == 1 {
			return fmt.Errorf("%w at position %d: %016x vs recorded %016x",
				ErrFingerprintMismatch, pos, fingerprint, rec.fingerprint)
		}
		mismatch = true
	}

	if t.step == 1 {
		// At the finest stride, re-apply the recorded ground truth so the
		// live run stays aligned while later positions are inspected.
		if err := target.RestoreState(rec.state); err != nil {
			return err
		}
	} else {
		state, err := target.CaptureState()
		if err != nil {
			return err
		}
		if !bytes.Equal(state, rec.state) {
			mismatch = true
		}
	}

	if mismatch {
		t.failurePos = pos
		t.start = pos - 2*t.step
		if t.start < 0 {
			t.start = 0
		}
		t.end = pos
		t.step = (t.end - t.start) / 1000
		if t.step < 1 {
			t.step = 1
		}
	}
	return nil
}

func (t *Tracker) lookup(pos int) (idx int, found bool) {
	idx = sort.Search(len(t.records), func(i int) bool { return t.records[i].pos >= pos })
	return idx, idx < len(t.records) && t.records[idx].pos == pos
}

func (t *Tracker) insert(idx int, rec record) {
	t.records = append(t.records, record{})
	copy(t.records[idx+1:], t.records[idx:])
	t.records[idx] = rec
}
