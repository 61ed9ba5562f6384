package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// MemoryStore is a threadsafe in-memory Store for tests and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	installations map[string]*coreprocessor.Installation
	cursors       map[string]*coreprocessor.RevisionCursor
	runs          map[string]*coreprocessor.RunRecord
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		installations: make(map[string]*coreprocessor.Installation),
		cursors:       make(map[string]*coreprocessor.RevisionCursor),
		runs:          make(map[string]*coreprocessor.RunRecord),
		now:           time.Now,
	}
}

func cursorKey(installationID, target string) string {
	return installationID + "\x00" + target
}

func (s *MemoryStore) InstallationByAccount(_ context.Context, platform, accountID string) (*coreprocessor.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.installations {
		if inst.Platform == platform && inst.AccountID == accountID {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("installation %s/%s: %w", platform, accountID, coreprocessor.ErrNotFound)
}

func (s *MemoryStore) GetInstallation(_ context.Context, id string) (*coreprocessor.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.installations[id]
	if !ok {
		return nil, fmt.Errorf("installation %s: %w", id, coreprocessor.ErrNotFound)
	}
	cp := *inst
	return &cp, nil
}

func (s *MemoryStore) SaveInstallation(_ context.Context, inst *coreprocessor.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	for id, other := range s.installations {
		if id != inst.ID && other.Platform == inst.Platform && other.AccountID == inst.AccountID {
			return fmt.Errorf("installation for %s/%s already exists", inst.Platform, inst.AccountID)
		}
	}
	if existing, ok := s.installations[inst.ID]; ok {
		inst.CreatedAt = existing.CreatedAt
	} else {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	cp := *inst
	s.installations[inst.ID] = &cp
	return nil
}

func (s *MemoryStore) ListInstallations(_ context.Context) ([]coreprocessor.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]coreprocessor.Installation, 0, len(s.installations))
	for _, inst := range s.installations {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetCursor(_ context.Context, installationID, target string) (*coreprocessor.RevisionCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[cursorKey(installationID, target)]
	if !ok {
		return nil, coreprocessor.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CompareAndSetCursor(_ context.Context, installationID, target, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey(installationID, target)
	current := ""
	if c, ok := s.cursors[key]; ok {
		current = c.RevisionID
	}
	if current != expected {
		return fmt.Errorf("%s: expected %q, found %q: %w", target, expected, current, coreprocessor.ErrCursorConflict)
	}
	s.cursors[key] = &coreprocessor.RevisionCursor{
		InstallationID: installationID,
		Target:         target,
		RevisionID:     next,
		UpdatedAt:      s.now(),
	}
	return nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run *coreprocessor.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.RequestedAt.IsZero() {
		run.RequestedAt = s.now()
	}
	run.Status = coreprocessor.RunPending
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, id string, result RunResult) error {
	return s.finish(id, func(r *coreprocessor.RunRecord) {
		r.Status = coreprocessor.RunCompleted
		r.ResultRef = result.ResultRef
		r.Provenance = result.Provenance
		r.RevisionsAnalyzed = append([]string(nil), result.RevisionsAnalyzed...)
	})
}

func (s *MemoryStore) FailRun(_ context.Context, id, reason string) error {
	return s.finish(id, func(r *coreprocessor.RunRecord) {
		r.Status = coreprocessor.RunFailed
		r.Error = reason
	})
}

func (s *MemoryStore) finish(id string, apply func(*coreprocessor.RunRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, coreprocessor.ErrNotFound)
	}
	if r.Status != coreprocessor.RunPending {
		return fmt.Errorf("run %s is %s: %w", id, r.Status, coreprocessor.ErrInvalidTransition)
	}
	apply(r)
	finished := s.now()
	r.FinishedAt = &finished
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*coreprocessor.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, coreprocessor.ErrNotFound)
	}
	return cloneRun(r), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, target string, limit int) ([]coreprocessor.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []coreprocessor.RunRecord
	for _, r := range s.runs {
		if target == "" || r.Target == target {
			out = append(out, *cloneRun(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRun(r *coreprocessor.RunRecord) *coreprocessor.RunRecord {
	cp := *r
	cp.RevisionsAnalyzed = append([]string(nil), r.RevisionsAnalyzed...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
