package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// MemoryFlowStore guarda registros em memória. Não sobrevive a reinícios;
// serve para desenvolvimento e testes.
type MemoryFlowStore struct {
	mu      sync.Mutex
	records map[models.FlowKey]models.FlowRecord
	now     func() time.Time
}

var _ FlowStore = (*MemoryFlowStore)(nil)

func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{records: make(map[models.FlowKey]models.FlowRecord), now: time.Now}
}

// SetClock substitui o relógio usado em created_at/updated_at.
func (s *MemoryFlowStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryFlowStore) BeginFlow(_ context.Context, key models.FlowKey, requestHash string, request []byte) (models.FlowRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok {
		rec = models.FlowRecord{
			UUID:          key.UUID,
			TransactionID: key.TransactionID,
			Operation:     key.Operation,
			Status:        models.FlowInProgress,
			RequestHash:   requestHash,
			Request:       request,
			Attempts:      1,
			CreatedAt:     now,
			UpdatedAt:     now,

			AttemptStartedAt: now,
		}
		s.records[key] = rec
		return rec, false, nil
	}

	replay, err := admit(rec, requestHash)
	if err != nil || replay {
		return rec, replay, err
	}
	rec.Status = models.FlowInProgress
	rec.Attempts++
	rec.LastError = ""
	rec.Result = nil
	rec.UpdatedAt = now
	rec.AttemptStartedAt = now
	s.records[key] = rec
	return rec, false, nil
}

func (s *MemoryFlowStore) update(key models.FlowKey, fn func(*models.FlowRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: registro de fluxo %s/%s/%s", models.ErrNotFound, key.Operation, key.UUID, key.TransactionID)
	}
	fn(&rec)
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

func (s *MemoryFlowStore) CompleteFlow(_ context.Context, key models.FlowKey, result []byte, ledgerRef string) error {
	return s.update(key, func(r *models.FlowRecord) {
		r.Status = models.FlowCompleted
		r.Result = result
		r.LastError = ""
		if ledgerRef != "" {
			r.LedgerRef = ledgerRef
		}
	})
}

func (s *MemoryFlowStore) FailFlow(_ context.Context, key models.FlowKey, cause string) error {
	return s.update(key, func(r *models.FlowRecord) {
		r.Status = models.FlowFailed
		r.LastError = cause
	})
}

func (s *MemoryFlowStore) MarkFlowPending(_ context.Context, key models.FlowKey, cause string) error {
	return s.update(key, func(r *models.FlowRecord) {
		r.Status = models.FlowPending
		r.LastError = cause
	})
}

func (s *MemoryFlowStore) SetFlowLedgerRef(_ context.Context, key models.FlowKey, ledgerRef string) error {
	return s.update(key, func(r *models.FlowRecord) { r.LedgerRef = ledgerRef })
}

func (s *MemoryFlowStore) SetFlowResult(_ context.Context, key models.FlowKey, result []byte) error {
	return s.update(key, func(r *models.FlowRecord) { r.Result = result })
}

func (s *MemoryFlowStore) GetFlow(_ context.Context, key models.FlowKey) (models.FlowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return models.FlowRecord{}, fmt.Errorf("%w: registro de fluxo", models.ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryFlowStore) ListStaleFlows(_ context.Context, olderThan time.Time, limit int) ([]models.FlowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlowRecord
	for _, rec := range s.records {
		if open(rec.Status) && rec.UpdatedAt.Before(olderThan) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryFlowStore) ClaimFlow(_ context.Context, key models.FlowKey, olderThan time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || !open(rec.Status) || !rec.UpdatedAt.Before(olderThan) {
		return false, nil
	}
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return true, nil
}

func open(status models.FlowStatus) bool {
	return status == models.FlowInProgress || status == models.FlowPending
}
