// Package compaction selects and executes background merges that keep the
// level-0 file count and per-level byte budgets in check.
package compaction

import "lsmkv/internal/version"

// PickerConfig holds the thresholds that decide when and what to compact.
type PickerConfig struct {
	// L0Trigger is the level-0 file count at or above which every level-0
	// file is merged into level 1.
	L0Trigger int
	// LevelBaseBytes is the target size of level 1; level L's target is
	// LevelBaseBytes * LevelMultiplier^(L-1).
	LevelBaseBytes uint64
	// LevelMultiplier is the per-level size growth factor.
	LevelMultiplier uint64
}

// DefaultPickerConfig matches the defaults named by the engine's public
// Config knobs.
func DefaultPickerConfig() PickerConfig {
	return PickerConfig{
		L0Trigger:       4,
		LevelBaseBytes:  10 * 1024 * 1024,
		LevelMultiplier: 10,
	}
}

// Task describes one compaction: merge InputFiles (from Level) and
// TargetFiles (the overlapping files already in OutputLevel) into new
// OutputLevel tables.
type Task struct {
	Level       int
	InputFiles  []version.FileMetadata
	OutputLevel int
	TargetFiles []version.FileMetadata
}

// AllInputFiles returns every file this task reads, in merge tie-break
// order: InputFiles (for a level-0 task, already newest-first) followed by
// TargetFiles (disjoint, so their relative order never matters).
func (t *Task) AllInputFiles() []version.FileMetadata {
	out := make([]version.FileMetadata, 0, len(t.InputFiles)+len(t.TargetFiles))
	out = append(out, t.InputFiles...)
	out = append(out, t.TargetFiles...)
	return out
}

// ToEdit builds the version edit that installs output and retires every
// input and target file.
func (t *Task) ToEdit(output version.FileMetadata) *version.Edit {
	edit := version.NewEdit()
	for _, f := range t.InputFiles {
		edit.DeleteFile(t.Level, f.FileID)
	}
	for _, f := range t.TargetFiles {
		edit.DeleteFile(t.OutputLevel, f.FileID)
	}
	edit.AddFile(t.OutputLevel, output)
	return edit
}

// Picker decides what, if anything, should be compacted next.
type Picker struct {
	cfg PickerConfig
}

// NewPicker returns a Picker using cfg's thresholds.
func NewPicker(cfg PickerConfig) *Picker {
	return &Picker{cfg: cfg}
}

// Pick examines v and returns the highest-priority compaction task, or nil
// if nothing currently warrants one. Level-0 overflow always takes priority
// over a level-size overflow.
func (p *Picker) Pick(v *version.Version) *Task {
	if task := p.pickL0(v); task != nil {
		return task
	}
	for level := 1; level <= 5; level++ {
		if task := p.pickLevel(v, level); task != nil {
			return task
		}
	}
	return nil
}

func (p *Picker) pickL0(v *version.Version) *Task {
	l0 := v.Levels[0].Files
	if len(l0) < p.cfg.L0Trigger {
		return nil
	}

	// Newest-first: AddFile appends, so the last entry is the most recent
	// flush. The merge step relies on this order to prefer newer values on
	// a duplicate key.
	inputs := make([]version.FileMetadata, len(l0))
	for i, f := range l0 {
		inputs[len(l0)-1-i] = f
	}

	smallest, largest := keyRange(inputs)
	targets := v.Levels[1].FindOverlapping(smallest, largest)

	return &Task{Level: 0, InputFiles: inputs, OutputLevel: 1, TargetFiles: targets}
}

func (p *Picker) pickLevel(v *version.Version, level int) *Task {
	lf := &v.Levels[level]
	if lf.TotalSize() <= p.maxBytesForLevel(level) {
		return nil
	}
	if len(lf.Files) == 0 {
		return nil
	}

	// Stable policy: always pick the first file. A production picker would
	// rotate a cursor so every file in the level eventually compacts.
	file := lf.Files[0]
	targets := v.Levels[level+1].FindOverlapping(file.Smallest, file.Largest)

	return &Task{
		Level:       level,
		InputFiles:  []version.FileMetadata{file},
		OutputLevel: level + 1,
		TargetFiles: targets,
	}
}

func (p *Picker) maxBytesForLevel(level int) uint64 {
	size := p.cfg.LevelBaseBytes
	for i := 1; i < level; i++ {
		size *= p.cfg.LevelMultiplier
	}
	return size
}

func keyRange(files []version.FileMetadata) (smallest, largest []byte) {
	for _, f := range files {
		if smallest == nil || string(f.Smallest) < string(smallest) {
			smallest = f.Smallest
		}
		if largest == nil || string(f.Largest) > string(largest) {
			largest = f.Largest
		}
	}
	return smallest, largest
}
