package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AuditEntry is one append-only row in the kernel's audit log. The
// WORM integrity fields (PreviousHash/CurrentHash) are adapted from the
// teacher's entities.AuditLog hash-chaining, generalized from a fixed
// user/action/resource shape to the kernel's free-form op/args/result
// shape (spec.md §4.1, §6).
type AuditEntry struct {
	ID            string
	Timestamp     time.Time
	Principal     Principal
	Provenance    Provenance
	Operation     string
	Object        string
	Args          map[string]any
	Result        string
	TransactionID string
	CheckpointID  string

	PreviousHash string
	CurrentHash  string
}

// CalculateHash hashes the entry's identity fields chained onto the prior
// entry's hash, the same construction as the teacher's AuditLog.CalculateHash
// but over the kernel's op/object/result fields instead of action/resource.
func (e AuditEntry) CalculateHash() string {
	h := sha256.New()
	h.Write([]byte(e.ID))
	h.Write([]byte(e.Principal))
	h.Write([]byte(e.Operation))
	h.Write([]byte(e.Object))
	h.Write([]byte(e.Result))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// SetIntegrityFields chains this entry onto previousHash and computes its
// own CurrentHash, called once at append time, never again afterward.
func (e *AuditEntry) SetIntegrityFields(previousHash string) {
	e.PreviousHash = previousHash
	e.CurrentHash = e.CalculateHash()
}

// IsTampered recomputes the entry's hash and compares it against the
// stored CurrentHash, detecting if a row was altered after being written.
func (e AuditEntry) IsTampered() bool {
	return e.CurrentHash != e.CalculateHash()
}

// ComplianceReport aggregates audit entries over a period, adapted from the
// teacher's entities.AuditComplianceReport to the kernel's op/principal
// vocabulary (SPEC_FULL.md supplemented feature 5).
type ComplianceReport struct {
	PeriodStart     time.Time
	PeriodEnd       time.Time
	GeneratedAt     time.Time
	TotalEvents     int64
	UniquePrincipals int64
	OperationCounts map[string]int64
	DeniedChecks    int64
	HashChainValid  bool
	TamperedEntryID string
}
