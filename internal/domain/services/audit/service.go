// Package audit implements C1, the kernel's append-only audit log.
// Grounded on the teacher's audit.Service (WORM hash chaining, lastHash
// mutex, VerifyIntegrity, GenerateComplianceReport) generalized from the
// fintech action/resource shape to the kernel's op/args/result shape, and
// on original_source/kernel/audit.py's _redact/_hash_field_name for the
// PII protection the distilled spec only gestures at.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/repositories"
	"github.com/capkernel/kernel/pkg/metrics"
)

// sensitiveKeys are redacted entirely (value replaced with "[REDACTED]")
// when they appear as a key, a "_"-suffixed key, or a bare suffix, per
// original_source/kernel/audit.py's _redact.
var sensitiveKeys = []string{"password", "secret", "token", "key", "credential"}

// piiFieldNames have the field NAME itself replaced by a salted
// "[PII:<hash>]" marker when they appear as a map key (the value under it
// is kept) or as a string inside a "fields"/"filled_fields" list, per
// audit.py's _is_pii_field / _hash_field_name.
var piiFieldNames = map[string]bool{
	"ssn": true, "social_security": true,
	"dob": true, "date_of_birth": true,
	"credit_card": true, "card_number": true, "cvv": true,
	"phone": true, "address": true, "zip": true, "postal": true,
}

type contextKey string

const txContextKey contextKey = "audit_tx_context"

type txContext struct {
	TxID         string
	CheckpointID string
}

// Service is C1: the audit log.
type Service struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
	salt   string

	mu       sync.Mutex
	lastHash string

	txMu sync.Mutex
	txCtx txContext
}

func NewService(repo repositories.AuditRepository, logger *zap.Logger, workspaceSalt string) *Service {
	if workspaceSalt == "" {
		var buf [16]byte
		_, _ = uuidRandom(buf[:])
		workspaceSalt = hex.EncodeToString(buf[:])
	}
	return &Service{repo: repo, logger: logger, salt: workspaceSalt}
}

func uuidRandom(buf []byte) (int, error) {
	id := uuid.New()
	copy(buf, id[:])
	return len(buf), nil
}

// SetTransactionContext attaches a tx/checkpoint id to all subsequent Log
// calls until cleared, mirroring AuditLog.set_transaction_context.
func (s *Service) SetTransactionContext(txID, checkpointID string) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.txCtx = txContext{TxID: txID, CheckpointID: checkpointID}
}

func (s *Service) ClearTransactionContext() {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.txCtx = txContext{}
}

func (s *Service) currentTxContext() txContext {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.txCtx
}

// Log appends a new entry holding a redacted/hashed copy of args (the
// caller's map is left unmodified), chaining its
// hash onto the previous entry's hash under a single mutex so no two
// concurrent appends can observe the same lastHash.
func (s *Service) Log(ctx context.Context, principal entities.Principal, provenance entities.Provenance, op, object string, args map[string]any, result string) (*entities.AuditEntry, error) {
	tx := s.currentTxContext()

	entry := &entities.AuditEntry{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Principal:     principal,
		Provenance:    provenance,
		Operation:     op,
		Object:        object,
		Args:          s.redact(args, ""),
		Result:        result,
		TransactionID: tx.TxID,
		CheckpointID:  tx.CheckpointID,
	}

	s.mu.Lock()
	previous := s.lastHash
	entry.SetIntegrityFields(previous)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.mu.Unlock()
		s.logger.Error("audit append failed", zap.Error(err), zap.String("op", op))
		return nil, fmt.Errorf("appending audit entry: %w", err)
	}
	s.lastHash = entry.CurrentHash
	s.mu.Unlock()

	metrics.AuditAppendsTotal.Inc()
	s.logger.Info("audit entry appended", zap.String("op", op), zap.String("principal", string(principal)), zap.String("hash", entry.CurrentHash))
	return entry, nil
}

// redact recursively walks args, redacting sensitive keys and hashing PII
// field names/values, a direct port of original_source/kernel/audit.py's
// _redact.
func (s *Service) redact(args map[string]any, parentKey string) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		lower := strings.ToLower(k)

		if isSensitiveKey(lower) {
			out[k] = "[REDACTED]"
			continue
		}

		outKey := k
		if s.isPIIField(lower) {
			outKey = fmt.Sprintf("[PII:%s]", s.hashFieldName(k))
		}

		switch val := v.(type) {
		case map[string]any:
			out[outKey] = s.redact(val, k)
		case []any:
			out[outKey] = s.redactList(val, k)
		default:
			out[outKey] = v
		}
	}
	return out
}

func (s *Service) redactList(list []any, parentKey string) []any {
	if parentKey != "fields" && parentKey != "filled_fields" {
		out := make([]any, len(list))
		copy(out, list)
		return out
	}
	out := make([]any, len(list))
	for i, item := range list {
		if str, ok := item.(string); ok && s.isPIIField(strings.ToLower(str)) {
			out[i] = fmt.Sprintf("[PII:%s]", s.hashFieldName(str))
			continue
		}
		out[i] = item
	}
	return out
}

func isSensitiveKey(lowerKey string) bool {
	for _, sensitive := range sensitiveKeys {
		if lowerKey == sensitive || strings.HasSuffix(lowerKey, "_"+sensitive) || strings.HasSuffix(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

func (s *Service) isPIIField(lowerKey string) bool {
	return piiFieldNames[lowerKey]
}

func (s *Service) hashFieldName(fieldName string) string {
	h := sha256.Sum256([]byte(fieldName + ":" + s.salt))
	return hex.EncodeToString(h[:])[:8]
}

// Query implements spec.md §4.1's query operation, supporting a trailing
// "*" on Operation as a prefix match (the Go analogue of audit.py's SQL
// LIKE-based op filter).
func (s *Service) Query(ctx context.Context, filter repositories.AuditFilter) ([]*entities.AuditEntry, error) {
	return s.repo.Query(ctx, filter)
}

func (s *Service) Count(ctx context.Context, filter repositories.AuditFilter) (int64, error) {
	return s.repo.Count(ctx, filter)
}

// Export serializes every entry matching filter as indented JSON, mirroring
// AuditLog.export_json but returning bytes instead of writing a file
// (spec.md §4.1's `export(range) → serialized bytes`). Entries are already
// in ascending timestamp order from Query, so two Exports over the same
// unchanged window are byte-identical.
func (s *Service) Export(ctx context.Context, filter repositories.AuditFilter) ([]byte, error) {
	entries, err := s.repo.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries for export: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing audit entries: %w", err)
	}
	return data, nil
}

// Import appends a previously Exported slice back into the log verbatim
// (hash-chain fields and all), the counterpart spec.md §9 invariant 8's
// export→import→export round-trip requires. It does not recompute hashes
// or advance lastHash from these rows, so Import is only safe against a
// store being restored into, never interleaved with live Log calls on the
// same chain.
func (s *Service) Import(ctx context.Context, data []byte) (int, error) {
	var entries []*entities.AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parsing exported audit entries: %w", err)
	}
	for _, e := range entries {
		if err := s.repo.Append(ctx, e); err != nil {
			return 0, fmt.Errorf("importing audit entry %s: %w", e.ID, err)
		}
	}
	return len(entries), nil
}

func (s *Service) TransactionLog(ctx context.Context, txID string) ([]*entities.AuditEntry, error) {
	return s.repo.TransactionLog(ctx, txID)
}

// IntegrityResult reports the outcome of walking the hash chain.
type IntegrityResult struct {
	Verified     bool
	TamperedID   string
	BrokenLinkID string
}

// VerifyIntegrity walks entries in timestamp order recomputing each hash,
// the Go analogue of the teacher's Service.VerifyIntegrity.
func (s *Service) VerifyIntegrity(ctx context.Context, since, until time.Time) (*IntegrityResult, error) {
	entries, err := s.repo.Query(ctx, repositories.AuditFilter{Since: &since, Until: &until, Limit: 1000000})
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}

	result := &IntegrityResult{Verified: true}
	var previous string
	for _, e := range entries {
		if e.IsTampered() {
			result.Verified = false
			result.TamperedID = e.ID
			return result, nil
		}
		if previous != "" && e.PreviousHash != previous {
			result.Verified = false
			result.BrokenLinkID = e.ID
			return result, nil
		}
		previous = e.CurrentHash
	}
	return result, nil
}

// GenerateComplianceReport aggregates entries over a period into the
// per-operation/per-principal breakdown SPEC_FULL.md's supplemented
// feature 5 describes, adapted from the teacher's GenerateComplianceReport.
func (s *Service) GenerateComplianceReport(ctx context.Context, periodStart, periodEnd time.Time) (*entities.ComplianceReport, error) {
	entries, err := s.repo.Query(ctx, repositories.AuditFilter{Since: &periodStart, Until: &periodEnd, Limit: 1000000})
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	count, err := s.repo.Count(ctx, repositories.AuditFilter{Since: &periodStart, Until: &periodEnd})
	if err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	uniquePrincipals := map[entities.Principal]bool{}
	opCounts := map[string]int64{}
	var denied int64
	for _, e := range entries {
		uniquePrincipals[e.Principal] = true
		opCounts[e.Operation]++
		if e.Operation == "capability.check" && e.Result == "denied" {
			denied++
		}
	}

	integrity, err := s.VerifyIntegrity(ctx, periodStart, periodEnd)
	if err != nil {
		s.logger.Warn("integrity verification failed during compliance report", zap.Error(err))
	}

	report := &entities.ComplianceReport{
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		GeneratedAt:      time.Now().UTC(),
		TotalEvents:      count,
		UniquePrincipals: int64(len(uniquePrincipals)),
		OperationCounts:  opCounts,
		DeniedChecks:     denied,
	}
	if integrity != nil {
		report.HashChainValid = integrity.Verified
		report.TamperedEntryID = integrity.TamperedID
	}
	return report, nil
}
