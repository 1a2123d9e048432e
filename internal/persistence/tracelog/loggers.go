// Package tracelog persists the environment's step traces and divergence
// reports as compressed JSONL, one entry per line. The JSONL files are the
// source of truth; the SQLite index is derived from them.
package tracelog

import "path/filepath"

// ActionEntry is one action applied during a step.
type ActionEntry struct {
	Action   int  `json:"action"`
	LeftTeam bool `json:"left_team"`
	Player   int  `json:"player"`
}

// StepLogEntry records the outcome of one environment step.
type StepLogEntry struct {
	Episode    int           `json:"episode"`
	Step       int           `json:"step"`
	Actions    []ActionEntry `json:"actions,omitempty"`
	LeftGoals  int32         `json:"left_goals"`
	RightGoals int32         `json:"right_goals"`
	GameMode   int32         `json:"game_mode"`
	InPlay     bool          `json:"in_play"`
	Digest     string        `json:"digest,omitempty"`
}

// DivergenceEntry records a tracker window update after a verified mismatch.
type DivergenceEntry struct {
	Session    int    `json:"session"`
	Pos        int    `json:"pos"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Stride     int    `json:"stride"`
	Fatal      bool   `json:"fatal,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// StepLogger writes one JSONL entry per step (compressed).
type StepLogger struct{ w *JSONLZstdWriter }

func NewStepLogger(envDir string) *StepLogger {
	return &StepLogger{w: NewJSONLZstdWriter(filepath.Join(envDir, "steps"), "steps")}
}

func (l *StepLogger) WriteStep(v StepLogEntry) error { return l.w.Write(v) }
func (l *StepLogger) Lines() int64                   { return l.w.Lines() }
func (l *StepLogger) Close() error                   { return l.w.Close() }

// DivergenceLogger writes divergence JSONL entries (compressed).
type DivergenceLogger struct{ w *JSONLZstdWriter }

func NewDivergenceLogger(envDir string) *DivergenceLogger {
	return &DivergenceLogger{w: NewJSONLZstdWriter(filepath.Join(envDir, "divergence"), "divergence")}
}

func (l *DivergenceLogger) WriteDivergence(v DivergenceEntry) error { return l.w.Write(v) }
func (l *DivergenceLogger) Lines() int64                            { return l.w.Lines() }
func (l *DivergenceLogger) Close() error                            { return l.w.Close() }
