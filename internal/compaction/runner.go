package compaction

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"lsmkv/internal/sstable"
	"lsmkv/internal/version"
)

// RunnerConfig carries the knobs a compaction needs in order to write a new
// table: where table files live and how to size their blocks and bloom
// filter.
type RunnerConfig struct {
	DataDir    string
	BlockSize  int
	BitsPerKey uint
}

// TablePath returns the on-disk path for a table file id, following the
// fixed "sst_XXXXXXXX.sst" (8-digit zero-padded) naming.
func TablePath(dataDir string, fileID uint64) string {
	return filepath.Join(dataDir, fmt.Sprintf("sst_%08d.sst", fileID))
}

// Runner executes compaction tasks produced by a Picker against a shared
// version set and reader cache.
type Runner struct {
	versions *version.Set
	readers  *ReaderCache
	cfg      RunnerConfig
	log      *slog.Logger
	manifest *version.ManifestWriter
}

// NewRunner returns a Runner. A nil logger falls back to slog.Default. A
// nil manifest is valid (tests exercising compaction without a durable
// manifest); the engine always supplies one so compactions survive restart.
func NewRunner(versions *version.Set, readers *ReaderCache, cfg RunnerConfig, log *slog.Logger, manifest *version.ManifestWriter) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{versions: versions, readers: readers, cfg: cfg, log: log, manifest: manifest}
}

// Run executes task synchronously: merge inputs, write the output table,
// install the version edit, then evict and delete the retired input files.
func (r *Runner) Run(task *Task) error {
	fileID := r.versions.NextFileID()
	outputPath := TablePath(r.cfg.DataDir, fileID)

	inputs := task.AllInputFiles()
	iters := make([]sstable.Iterator, 0, len(inputs))
	for _, f := range inputs {
		reader, ok := r.readers.Get(f.FileID)
		if !ok {
			return fmt.Errorf("compaction: no open reader for file %d", f.FileID)
		}
		it, err := reader.Iterator()
		if err != nil {
			return fmt.Errorf("compaction: iterator for file %d: %w", f.FileID, err)
		}
		iters = append(iters, it)
	}

	merged := sstable.NewMergeIterator(iters)
	writer, err := sstable.NewWriter(outputPath, r.cfg.BlockSize, r.cfg.BitsPerKey)
	if err != nil {
		return fmt.Errorf("compaction: create output table: %w", err)
	}

	for valid := merged.SeekToFirst(); valid; valid = merged.Next() {
		if err := writer.Add(merged.Key(), merged.Value()); err != nil {
			return fmt.Errorf("compaction: write merged entry: %w", err)
		}
	}

	meta, err := writer.Finish(fileID, task.OutputLevel)
	if err != nil {
		return fmt.Errorf("compaction: finish output table: %w", err)
	}

	newReader, err := sstable.Open(outputPath)
	if err != nil {
		return fmt.Errorf("compaction: reopen output table: %w", err)
	}
	r.readers.Put(fileID, newReader)

	output := version.FileMetadata{Metadata: meta, Bloom: newReader.Bloom()}
	edit := task.ToEdit(output)
	r.versions.Apply(edit)
	if r.manifest != nil {
		if err := r.manifest.Append(edit); err != nil {
			return fmt.Errorf("compaction: append manifest edit: %w", err)
		}
	}

	var cleanup *multierror.Error
	for _, f := range inputs {
		if err := r.readers.Remove(f.FileID); err != nil {
			cleanup = multierror.Append(cleanup, fmt.Errorf("evict reader for file %d: %w", f.FileID, err))
		}
		if err := os.Remove(TablePath(r.cfg.DataDir, f.FileID)); err != nil {
			cleanup = multierror.Append(cleanup, fmt.Errorf("remove table file %d: %w", f.FileID, err))
		}
	}
	if cleanup.ErrorOrNil() != nil {
		// The new table and version edit are already durable; a retired
		// input that fails to evict or unlink is disk bloat, not corruption.
		r.log.Warn("compaction: retiring old inputs", "err", cleanup)
	}

	r.log.Info("compaction finished",
		"level", task.Level, "output_level", task.OutputLevel,
		"output_file", fileID, "inputs", len(inputs), "entries", meta.NumEntries)

	return nil
}
