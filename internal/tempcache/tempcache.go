// Package tempcache buffers verdicts and screenshot bytes for a running
// sweep, decoupling capture from the durable write. An optional per-run
// disk mirror makes a crash mid-run recoverable; Clear removes both the
// in-process content and the mirror and runs on every terminal path.
package tempcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/tagwatch/tagwatch/internal/types"
)

// Entry pairs a verdict with its screenshot for upload.
type Entry struct {
	Verdict    types.Verdict
	Screenshot *types.Screenshot
}

// verdictKey identifies one verdict row: a property gets at most one
// verdict per phase, and both rows survive to upload.
type verdictKey struct {
	propertyID string
	phase      types.Phase
}

// Cache is the in-process store for one run.
type Cache struct {
	mu sync.Mutex

	runID  string
	logger *zap.Logger

	verdicts    map[verdictKey]types.Verdict
	screenshots map[verdictKey]*types.Screenshot
	// phase2Queued marks properties whose phase-1 outcome was a timeout.
	// Only these may gain a second, phase-2 verdict.
	phase2Queued map[string]bool
	order        []verdictKey // insertion order for stable export

	mirrorDir string // empty disables the mirror
}

// New creates a cache for runID. When mirrorRoot is non-empty, verdicts are
// also serialized under mirrorRoot/<runID>/ for crash recovery.
func New(runID, mirrorRoot string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		runID:        runID,
		logger:       logger,
		verdicts:     make(map[verdictKey]types.Verdict),
		screenshots:  make(map[verdictKey]*types.Screenshot),
		phase2Queued: make(map[string]bool),
	}
	if mirrorRoot != "" {
		dir := filepath.Join(mirrorRoot, runID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("mirror disabled: cannot create directory", zap.String("dir", dir), zap.Error(err))
		} else {
			c.mirrorDir = dir
		}
	}
	return c
}

// RunID returns the run this cache belongs to.
func (c *Cache) RunID() string { return c.runID }

// MarkQueuedForPhase2 records that the property's phase-1 outcome was a
// timeout and a second verdict is expected.
func (c *Cache) MarkQueuedForPhase2(propertyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase2Queued[propertyID] = true
}

// AddVerdict stores a verdict. A duplicate (property, phase) row is a
// defect and is rejected; a phase-2 row is legal only for properties
// marked queued-for-phase-2. The phase-1 timeout row is never replaced, so
// upload writes both rows with distinct phases.
func (c *Cache) AddVerdict(v types.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := verdictKey{v.PropertyID, v.Phase}
	if _, exists := c.verdicts[k]; exists {
		return fmt.Errorf("verdict for property %s phase %d already cached", v.PropertyID, v.Phase)
	}
	if v.Phase == types.Phase2 && !c.phase2Queued[v.PropertyID] {
		return fmt.Errorf("phase 2 verdict for property %s without a phase-1 timeout", v.PropertyID)
	}
	c.verdicts[k] = v
	c.order = append(c.order, k)
	c.mirrorVerdict(v)
	return nil
}

// AddScreenshot stores screenshot bytes for one (property, phase).
func (c *Cache) AddScreenshot(s *types.Screenshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screenshots[verdictKey{s.PropertyID, s.Phase}] = s
}

// VerdictCount returns the number of cached verdicts.
func (c *Cache) VerdictCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.verdicts)
}

// ScreenshotCount returns the number of cached screenshots.
func (c *Cache) ScreenshotCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.screenshots)
}

// ExportForUpload returns all entries in insertion order. The cache keeps
// its content; Clear is a separate, unconditional step.
func (c *Cache) ExportForUpload() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.order))
	for _, k := range c.order {
		entries = append(entries, Entry{
			Verdict:    c.verdicts[k],
			Screenshot: c.screenshots[k],
		})
	}
	return entries
}

// Clear drops all verdicts and screenshot bytes and deletes the mirror.
// Called on every terminal path, success or failure, to bound memory.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.verdicts = make(map[verdictKey]types.Verdict)
	c.screenshots = make(map[verdictKey]*types.Screenshot)
	c.phase2Queued = make(map[string]bool)
	c.order = nil

	if c.mirrorDir != "" {
		if err := os.RemoveAll(c.mirrorDir); err != nil {
			c.logger.Warn("failed to remove mirror directory", zap.String("dir", c.mirrorDir), zap.Error(err))
		}
	}
}

// mirrorVerdict serializes one verdict to the mirror, mu held. Mirror
// write failures are logged and ignored: the mirror is best-effort.
func (c *Cache) mirrorVerdict(v types.Verdict) {
	if c.mirrorDir == "" {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("mirror marshal failed", zap.String("property", v.PropertyID), zap.Error(err))
		return
	}
	path := filepath.Join(c.mirrorDir, fmt.Sprintf("%s_phase%d.json", v.PropertyID, v.Phase))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		c.logger.Warn("mirror write failed", zap.String("path", path), zap.Error(err))
	}
}

// LoadMirror reads a previous run's mirrored verdicts from disk. Used by
// the out-of-band re-upload path after a crash; the running scheduler never
// treats the mirror as the source of truth.
func LoadMirror(mirrorRoot, runID string) ([]types.Verdict, error) {
	dir := filepath.Join(mirrorRoot, runID)
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var verdicts []types.Verdict
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mirror file %s: %w", path, err)
		}
		var v types.Verdict
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse mirror file %s: %w", path, err)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}
