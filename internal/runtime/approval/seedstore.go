package approval

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/capkernel/kernel/internal/domain/entities"
	kernelerrors "github.com/capkernel/kernel/pkg/errors"
)

// StaticSeedStore is the integrator-facing default SeedStore: principals
// and their encrypted TOTP seeds are registered once at startup from
// configuration rather than looked up from a database, since the kernel
// itself does not own enrollment of human approvers.
type StaticSeedStore struct {
	mu    sync.RWMutex
	seeds map[entities.Principal][]byte
}

func NewStaticSeedStore() *StaticSeedStore {
	return &StaticSeedStore{seeds: make(map[entities.Principal][]byte)}
}

// Register stores a hex-encoded chacha20poly1305-encrypted seed for a
// principal, as produced by TOTPProvider's own encrypt path during
// enrollment.
func (s *StaticSeedStore) Register(principal entities.Principal, encryptedSeedHex string) error {
	seed, err := hex.DecodeString(encryptedSeedHex)
	if err != nil {
		return kernelerrors.ValidationFailure("invalid encrypted seed encoding")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds[principal] = seed
	return nil
}

func (s *StaticSeedStore) EncryptedSeed(_ context.Context, principal entities.Principal) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seed, ok := s.seeds[principal]
	if !ok {
		return nil, kernelerrors.New(kernelerrors.KindObjectNotFound, "no enrolled approval seed for principal")
	}
	return seed, nil
}
