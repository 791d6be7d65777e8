package entities

import (
	"strings"
	"time"
)

// CapabilityRisk classifies how dangerous an operation is, matching the
// reference implementation's CapabilityRisk enum.
type CapabilityRisk string

const (
	CapabilityRiskRead        CapabilityRisk = "read"
	CapabilityRiskStateful    CapabilityRisk = "stateful"
	CapabilityRiskIrreversible CapabilityRisk = "irreversible"
)

// Capability is an immutable grant of permission to perform an operation
// against a resource. Capability values are never mutated in place; a
// revoke replaces the broker's view of the world rather than editing the
// struct.
type Capability struct {
	Token     string
	Principal Principal
	Operation string
	Resource  string
	Risk      CapabilityRisk
	GrantedAt time.Time
	ExpiresAt *time.Time
}

// IsExpired reports whether the capability's TTL (if any) has elapsed as
// of now.
func (c Capability) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// Matches implements the pattern language from spec.md §4.3: exact match,
// the "*" wildcard, a dotted "prefix.*" operation-namespace match, and a
// colon "prefix:*" resource-namespace match. No regexp is involved — this
// mirrors the reference Capability.matches method's plain string
// comparisons.
func (c Capability) Matches(operation, resource string) bool {
	return matchOperation(c.Operation, operation) && matchResource(c.Resource, resource)
}

func matchOperation(pattern, operation string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == operation {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := pattern[:len(pattern)-1] // keep trailing "."
		return strings.HasPrefix(operation, prefix)
	}
	return false
}

func matchResource(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == resource {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := pattern[:len(pattern)-1] // keep trailing ":"
		return strings.HasPrefix(resource, prefix)
	}
	return false
}
