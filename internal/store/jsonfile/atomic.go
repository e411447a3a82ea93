// Package jsonfile implements the authoritative persisted state of the
// control plane as JSON files written with an atomic temp-file + rename
// discipline. Every file has exactly one writer role at a time, enforced by a
// per-path FIFO operation queue, so concurrent read-modify-write cycles can
// never interleave and produce a lost update.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Op transforms the current raw contents of a file into the new contents.
// exists is false when the file has not been created yet (data is nil).
// Returning an error aborts the cycle without touching the file.
type Op func(data []byte, exists bool) ([]byte, error)

// job is one queued operation together with its completion channel.
type job struct {
	op   Op
	done chan error
}

// Atomic owns the per-path operation queues. A single instance is shared by
// every file-backed store in the process.
type Atomic struct {
	mu     sync.Mutex
	queues map[string]chan job
}

// NewAtomic creates an Atomic writer.
func NewAtomic() *Atomic {
	return &Atomic{queues: make(map[string]chan job)}
}

// Update runs op against the file at path through that path's FIFO queue.
// The read, the transform, and the atomic write happen as one serialized
// cycle; two concurrent callers cannot both read the old contents.
func (a *Atomic) Update(path string, op Op) error {
	q := a.queue(path)
	j := job{op: op, done: make(chan error, 1)}
	q <- j
	return <-j.done
}

// WriteJSON marshals v and atomically replaces the file at path.
func (a *Atomic) WriteJSON(path string, v any) error {
	return a.Update(path, func([]byte, bool) ([]byte, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("jsonfile: marshal %s: %w", path, err)
		}
		return data, nil
	})
}

// ReadJSON reads the file at path into dst. A missing file leaves dst
// untouched and returns os.ErrNotExist.
func (a *Atomic) ReadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("jsonfile: unmarshal %s: %w", path, err)
	}
	return nil
}

// queue returns the FIFO queue for path, starting its worker on first use.
// Workers live for the remainder of the process; the set of state files is
// small and fixed.
func (a *Atomic) queue(path string) chan job {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.queues[path]
	if !ok {
		q = make(chan job, 16)
		a.queues[path] = q
		go runQueue(path, q)
	}
	return q
}

// runQueue drains jobs for one path in arrival order.
func runQueue(path string, q chan job) {
	for j := range q {
		j.done <- applyOp(path, j.op)
	}
}

// applyOp performs one read-transform-write cycle.
func applyOp(path string, op Op) error {
	data, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("jsonfile: read %s: %w", path, err)
	}
	if !exists {
		data = nil
	}

	out, err := op(data, exists)
	if err != nil {
		return err
	}
	if out == nil {
		// No change requested.
		return nil
	}
	return writeFileAtomic(path, out, 0o600)
}

// writeFileAtomic writes data to path via a uniquely-named temp file in the
// same directory, fsyncs it, then renames over the target. On Unix the parent
// directory is also fsynced to harden the rename durability. A failed write
// surfaces as an error; the target is never left partially written.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("jsonfile: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: chmod %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("jsonfile: rename %s -> %s: %w", tmpPath, path, err)
	}

	// Best-effort fsync of the parent directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
