package session

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"sync"

	"github.com/audithq/ganaudit/internal/errors"
)

// defaultKeepRecent is how many iterations stay decompressed per session.
const defaultKeepRecent = 5

// CompactStore decorates a Store with a memory-efficient iteration
// archive: the last few iterations per session stay decompressed for
// fast access, older ones are held as gzip-compressed batches and only
// inflated on read. Durable state still flows through the wrapped Store.
type CompactStore struct {
	store      *Store
	keepRecent int

	mu       sync.Mutex
	archives map[string]*iterationArchive
}

type iterationArchive struct {
	recent     []Iteration
	compressed [][]byte // gzip-compressed JSON batches, oldest first
	archived   int      // iteration count inside compressed batches
}

// MemoryStats describes the archive footprint for one session or in total.
type MemoryStats struct {
	Sessions           int `json:"sessions"`
	RecentIterations   int `json:"recentIterations"`
	ArchivedIterations int `json:"archivedIterations"`
	CompressedBytes    int `json:"compressedBytes"`
}

// NewCompactStore wraps store. keepRecent <= 0 selects the default.
func NewCompactStore(store *Store, keepRecent int) *CompactStore {
	if keepRecent <= 0 {
		keepRecent = defaultKeepRecent
	}
	return &CompactStore{
		store:      store,
		keepRecent: keepRecent,
		archives:   make(map[string]*iterationArchive),
	}
}

// Store exposes the wrapped durable store.
func (c *CompactStore) Store() *Store { return c.store }

// AddIteration persists the iteration and folds it into the archive,
// compressing whatever falls out of the recent window.
func (c *CompactStore) AddIteration(sessionID string, it Iteration) error {
	if err := c.store.AddIteration(sessionID, it); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	arch, ok := c.archives[sessionID]
	if !ok {
		arch = &iterationArchive{}
		c.archives[sessionID] = arch
	}
	arch.recent = append(arch.recent, it)
	if len(arch.recent) <= c.keepRecent {
		return nil
	}

	overflow := arch.recent[:len(arch.recent)-c.keepRecent]
	batch, err := compressIterations(overflow)
	if err != nil {
		// Keep the overflow decompressed rather than lose it.
		return errors.Wrap(errors.ErrSessionPersistence, "compress iteration batch")
	}
	arch.compressed = append(arch.compressed, batch)
	arch.archived += len(overflow)
	arch.recent = append([]Iteration(nil), arch.recent[len(arch.recent)-c.keepRecent:]...)
	return nil
}

// RecentIterations returns the decompressed tail without touching the
// compressed batches.
func (c *CompactStore) RecentIterations(sessionID string) []Iteration {
	c.mu.Lock()
	defer c.mu.Unlock()
	arch, ok := c.archives[sessionID]
	if !ok {
		return nil
	}
	return append([]Iteration(nil), arch.recent...)
}

// AllIterations inflates the compressed batches and returns the full
// history in append order.
func (c *CompactStore) AllIterations(sessionID string) ([]Iteration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	arch, ok := c.archives[sessionID]
	if !ok {
		return nil, nil
	}

	out := make([]Iteration, 0, arch.archived+len(arch.recent))
	for _, batch := range arch.compressed {
		iterations, err := decompressIterations(batch)
		if err != nil {
			return nil, errors.Wrap(errors.ErrSessionPersistence, "decompress iteration batch")
		}
		out = append(out, iterations...)
	}
	return append(out, arch.recent...), nil
}

// Drop discards the archive for one session. The durable file is untouched.
func (c *CompactStore) Drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.archives, sessionID)
}

// SessionStats reports the footprint of one session's archive.
func (c *CompactStore) SessionStats(sessionID string) MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	arch, ok := c.archives[sessionID]
	if !ok {
		return MemoryStats{}
	}
	return archiveStats(arch)
}

// TotalStats aggregates footprint across all tracked sessions.
func (c *CompactStore) TotalStats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := MemoryStats{Sessions: len(c.archives)}
	for _, arch := range c.archives {
		st := archiveStats(arch)
		total.RecentIterations += st.RecentIterations
		total.ArchivedIterations += st.ArchivedIterations
		total.CompressedBytes += st.CompressedBytes
	}
	return total
}

func archiveStats(arch *iterationArchive) MemoryStats {
	size := 0
	for _, b := range arch.compressed {
		size += len(b)
	}
	return MemoryStats{
		Sessions:           1,
		RecentIterations:   len(arch.recent),
		ArchivedIterations: arch.archived,
		CompressedBytes:    size,
	}
}

func compressIterations(iterations []Iteration) ([]byte, error) {
	data, err := json.Marshal(iterations)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressIterations(batch []byte) ([]Iteration, error) {
	zr, err := gzip.NewReader(bytes.NewReader(batch))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	var iterations []Iteration
	if err := json.Unmarshal(data, &iterations); err != nil {
		return nil, err
	}
	return iterations, nil
}
