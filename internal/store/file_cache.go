package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

type cacheState struct {
	Tasks     map[string]model.TaskRecord     `json:"tasks"`
	Approvals map[string]model.ApprovalRecord `json:"approvals"`
	History   []HistoryEntry                  `json:"history,omitempty"`
}

func newCacheState() cacheState {
	return cacheState{
		Tasks:     map[string]model.TaskRecord{},
		Approvals: map[string]model.ApprovalRecord{},
	}
}

// FileCache is the JSON-file-backed Cache. History entries older than the
// retention window are pruned on append.
type FileCache struct {
	mu        sync.RWMutex
	path      string
	retention time.Duration
	s         cacheState
}

func NewFileCache(dataDir string, retention time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	c := &FileCache{
		path:      filepath.Join(dataDir, "cache.json"),
		retention: retention,
		s:         newCacheState(),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FileCache) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.s = newCacheState()
			return nil
		}
		return err
	}

	var loaded cacheState
	if err := json.Unmarshal(b, &loaded); err != nil {
		return err
	}
	if loaded.Tasks == nil {
		loaded.Tasks = map[string]model.TaskRecord{}
	}
	if loaded.Approvals == nil {
		loaded.Approvals = map[string]model.ApprovalRecord{}
	}
	c.s = loaded
	return nil
}

func (c *FileCache) saveLocked() error {
	b, err := json.MarshalIndent(c.s, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (c *FileCache) GetTasks() ([]model.TaskRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.TaskRecord, 0, len(c.s.Tasks))
	for _, rec := range c.s.Tasks {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *FileCache) SaveTask(rec model.TaskRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.Tasks[rec.ID] = rec
	return c.saveLocked()
}

func (c *FileCache) RemoveTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.s.Tasks, id)
	return c.saveLocked()
}

func (c *FileCache) GetApprovals() ([]model.ApprovalRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.ApprovalRecord, 0, len(c.s.Approvals))
	for _, rec := range c.s.Approvals {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *FileCache) SaveApproval(rec model.ApprovalRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.Approvals[rec.ID] = rec
	return c.saveLocked()
}

func (c *FileCache) RemoveApproval(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.s.Approvals, id)
	return c.saveLocked()
}

func (c *FileCache) GetHistory(limit int) ([]HistoryEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := append([]HistoryEntry(nil), c.s.History...)
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *FileCache) AppendHistory(e HistoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.s.History[:0]
	if c.retention > 0 {
		cutoff := e.At.Add(-c.retention)
		for _, h := range c.s.History {
			if h.At.After(cutoff) {
				kept = append(kept, h)
			}
		}
	} else {
		kept = c.s.History
	}
	c.s.History = append(kept, e)
	return c.saveLocked()
}
