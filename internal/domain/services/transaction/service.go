// Package transaction implements C5, the transaction coordinator.
// Grounded on original_source/kernel/transactions.py's
// TransactionCoordinator/TransactionContext, translating Python's
// with-statement context manager into a Go Handle whose Close method
// aborts unless Commit was called explicitly first — the same scoped-
// lifetime guarantee __exit__ provides.
package transaction

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/capkernel/kernel/internal/domain/entities"
	kernelerrors "github.com/capkernel/kernel/pkg/errors"
	"github.com/capkernel/kernel/pkg/metrics"
)

type State string

const (
	StateActive     State = "active"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
	StateAborted    State = "aborted"
)

const initialCheckpoint = "__initial__"

// Checkpoint is a named snapshot within a transaction.
type Checkpoint struct {
	ID        string
	Name      string
	TxID      string
	Timestamp time.Time
	State     map[entities.ObjectID]entities.ObjectState
}

// Transaction tracks one in-flight or terminated transaction's checkpoints.
type Transaction struct {
	ID          string
	State       State
	Checkpoints map[string]*Checkpoint
	StartedAt   time.Time
	EndedAt     *time.Time
}

func (t *Transaction) IsActive() bool { return t.State == StateActive }

// ObjectGraph is the subset of the object manager (C2) the coordinator
// needs: snapshot and restore.
type ObjectGraph interface {
	SnapshotAll() map[entities.ObjectID]entities.ObjectState
	RestoreSnapshot(snapshot map[entities.ObjectID]entities.ObjectState)
}

// Auditor mirrors capability.Auditor; declared separately to keep package
// dependencies one-directional.
type Auditor interface {
	Log(ctx context.Context, principal entities.Principal, provenance entities.Provenance, op, object string, args map[string]any, result string) (*entities.AuditEntry, error)
	SetTransactionContext(txID, checkpointID string)
	ClearTransactionContext()
}

// Service is C5.
type Service struct {
	mu               sync.Mutex
	objects          ObjectGraph
	audit            Auditor
	transactions     map[string]*Transaction
	activeTx         string
	checkpointCount  int
}

func NewService(objects ObjectGraph, audit Auditor) *Service {
	return &Service{
		objects:      objects,
		audit:        audit,
		transactions: make(map[string]*Transaction),
	}
}

func randomSuffix() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *Service) nextCheckpointID() string {
	s.checkpointCount++
	return "cp:" + randomSuffix()
}

// Begin starts a new transaction, capturing an "__initial__" checkpoint
// of the current object graph so Abort can always restore to it. Returns
// a Handle scoping the transaction's lifetime.
func (s *Service) Begin(ctx context.Context) *Handle {
	s.mu.Lock()
	txID := "tx:" + randomSuffix()
	tx := &Transaction{
		ID:          txID,
		State:       StateActive,
		Checkpoints: make(map[string]*Checkpoint),
		StartedAt:   time.Now(),
	}
	initial := &Checkpoint{
		ID:        s.nextCheckpointID(),
		Name:      initialCheckpoint,
		TxID:      txID,
		Timestamp: time.Now(),
		State:     s.objects.SnapshotAll(),
	}
	tx.Checkpoints[initialCheckpoint] = initial
	s.transactions[txID] = tx
	s.activeTx = txID
	s.mu.Unlock()

	if s.audit != nil {
		s.audit.SetTransactionContext(txID, "")
		_, _ = s.audit.Log(ctx, entities.SystemPrincipal, entities.ProvenanceSystem, "transaction.begin", txID, map[string]any{}, "started")
	}

	return &Handle{svc: s, txID: txID}
}

// Checkpoint creates a named checkpoint in tx, overwriting silently if
// the name already exists (spec.md §9 open question #3).
func (s *Service) Checkpoint(ctx context.Context, txID, name string) (*Checkpoint, error) {
	s.mu.Lock()
	tx, ok := s.transactions[txID]
	if !ok || !tx.IsActive() {
		s.mu.Unlock()
		return nil, kernelerrors.TransactionNotActive(txID)
	}
	cp := &Checkpoint{
		ID:        s.nextCheckpointID(),
		Name:      name,
		TxID:      txID,
		Timestamp: time.Now(),
		State:     s.objects.SnapshotAll(),
	}
	tx.Checkpoints[name] = cp
	s.mu.Unlock()

	if s.audit != nil {
		s.audit.SetTransactionContext(txID, cp.ID)
		_, _ = s.audit.Log(ctx, entities.SystemPrincipal, entities.ProvenanceSystem, "transaction.checkpoint", txID, map[string]any{
			"name":          name,
			"checkpoint_id": cp.ID,
		}, "created")
	}
	return cp, nil
}

// Rollback restores the object graph to a named checkpoint without
// ending the transaction.
func (s *Service) Rollback(ctx context.Context, txID, checkpointName string) error {
	s.mu.Lock()
	tx, ok := s.transactions[txID]
	if !ok || !tx.IsActive() {
		s.mu.Unlock()
		return kernelerrors.TransactionNotActive(txID)
	}
	cp, ok := tx.Checkpoints[checkpointName]
	if !ok {
		s.mu.Unlock()
		return kernelerrors.CheckpointNotFound(checkpointName)
	}
	s.objects.RestoreSnapshot(cp.State)
	s.mu.Unlock()

	if s.audit != nil {
		_, _ = s.audit.Log(ctx, entities.SystemPrincipal, entities.ProvenanceSystem, "transaction.rollback", txID, map[string]any{
			"to_checkpoint": checkpointName,
		}, "restored")
	}
	return nil
}

// Commit finalizes the transaction.
func (s *Service) Commit(ctx context.Context, txID string) error {
	s.mu.Lock()
	tx, ok := s.transactions[txID]
	if !ok || !tx.IsActive() {
		s.mu.Unlock()
		return kernelerrors.TransactionNotActive(txID)
	}
	tx.State = StateCommitted
	now := time.Now()
	tx.EndedAt = &now
	if s.activeTx == txID {
		s.activeTx = ""
	}
	s.mu.Unlock()

	metrics.TransactionOutcomesTotal.WithLabelValues("committed").Inc()
	if s.audit != nil {
		_, _ = s.audit.Log(ctx, entities.SystemPrincipal, entities.ProvenanceSystem, "transaction.commit", txID, map[string]any{}, "committed")
		s.audit.ClearTransactionContext()
	}
	return nil
}

// Abort restores the "__initial__" checkpoint if the transaction is still
// active, then marks it aborted.
func (s *Service) Abort(ctx context.Context, txID string) error {
	s.mu.Lock()
	tx, ok := s.transactions[txID]
	if !ok {
		s.mu.Unlock()
		return kernelerrors.TransactionNotActive(txID)
	}
	if tx.IsActive() {
		if initial, ok := tx.Checkpoints[initialCheckpoint]; ok {
			s.objects.RestoreSnapshot(initial.State)
		}
	}
	tx.State = StateAborted
	now := time.Now()
	tx.EndedAt = &now
	if s.activeTx == txID {
		s.activeTx = ""
	}
	s.mu.Unlock()

	metrics.TransactionOutcomesTotal.WithLabelValues("aborted").Inc()
	if s.audit != nil {
		_, _ = s.audit.Log(ctx, entities.SystemPrincipal, entities.ProvenanceSystem, "transaction.abort", txID, map[string]any{}, "aborted")
		s.audit.ClearTransactionContext()
	}
	return nil
}

func (s *Service) Get(txID string) (*Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[txID]
	return tx, ok
}

// ListCheckpoints returns every named checkpoint in tx, excluding the
// internal "__initial__" bookmark.
func (s *Service) ListCheckpoints(txID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[txID]
	if !ok {
		return nil
	}
	var out []string
	for name := range tx.Checkpoints {
		if name != initialCheckpoint {
			out = append(out, name)
		}
	}
	return out
}

// Handle scopes a transaction's lifetime the way TransactionContext does
// in the reference implementation: call Checkpoint/Rollback/Commit as
// needed, then Close. Close aborts unless Commit was already called,
// mirroring __exit__'s "no explicit commit -> abort" rule.
type Handle struct {
	svc       *Service
	txID      string
	committed bool
}

func (h *Handle) ID() string { return h.txID }

func (h *Handle) Checkpoint(ctx context.Context, name string) (*Checkpoint, error) {
	return h.svc.Checkpoint(ctx, h.txID, name)
}

func (h *Handle) Rollback(ctx context.Context, checkpointName string) error {
	return h.svc.Rollback(ctx, h.txID, checkpointName)
}

func (h *Handle) Commit(ctx context.Context) error {
	if err := h.svc.Commit(ctx, h.txID); err != nil {
		return err
	}
	h.committed = true
	return nil
}

func (h *Handle) IsActive() bool {
	tx, ok := h.svc.Get(h.txID)
	return ok && tx.IsActive()
}

// Close aborts the transaction if it is still active and was never
// explicitly committed. Intended for `defer handle.Close(ctx)` immediately
// after Begin, the idiomatic Go translation of TransactionContext.__exit__.
func (h *Handle) Close(ctx context.Context) {
	if h.committed {
		return
	}
	if h.IsActive() {
		_ = h.svc.Abort(ctx, h.txID)
	}
}
