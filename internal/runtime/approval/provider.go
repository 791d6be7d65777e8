// Package approval implements the ApprovalProvider contract
// SPEC_FULL.md's supplemented feature 4 calls for: the human-in-the-loop
// gate behind browser.human.approve(). original_source/kernel/runtime.py
// leaves this to a test-only "_auto_approve" hook and a hardcoded deny;
// the kernel makes the contract explicit and supplies a real,
// TOTP-backed implementation (pquerna/otp) alongside the always-deny
// default, demonstrating what a production integrator plugs in.
package approval

import (
	"context"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/capkernel/kernel/internal/domain/entities"
	kernelerrors "github.com/capkernel/kernel/pkg/errors"
)

// Provider decides whether a human has affirmatively approved an
// operation. Implementations must not approve silently; an approval
// requires some out-of-band signal (a code, a click, an email reply).
type Provider interface {
	Approve(ctx context.Context, principal entities.Principal, operation, reason string) bool
}

// DenyAllProvider always refuses, the kernel's safe default when no
// integrator-supplied ApprovalProvider is configured.
type DenyAllProvider struct{}

func (DenyAllProvider) Approve(ctx context.Context, principal entities.Principal, operation, reason string) bool {
	return false
}

// CodeSource supplies the TOTP code a caller claims to have entered for
// this approval request. In an interactive deployment this would read
// from the IPC request payload; it is a function here so callers can
// wire it to whatever channel carries the code.
type CodeSource func(ctx context.Context, principal entities.Principal, operation string) (string, error)

// SeedStore resolves a principal's encrypted TOTP seed.
type SeedStore interface {
	EncryptedSeed(ctx context.Context, principal entities.Principal) ([]byte, error)
}

// TOTPProvider gates approval behind a time-based one-time code, the
// seed for which is stored encrypted at rest (chacha20poly1305) and
// decrypted only for the duration of the check.
type TOTPProvider struct {
	seeds      SeedStore
	codeSource CodeSource
	aead       []byte // 32-byte chacha20poly1305 key
}

func NewTOTPProvider(seeds SeedStore, codeSource CodeSource, encryptionKey []byte) (*TOTPProvider, error) {
	if len(encryptionKey) != chacha20poly1305.KeySize {
		return nil, kernelerrors.ValidationFailure("totp encryption key must be 32 bytes")
	}
	return &TOTPProvider{seeds: seeds, codeSource: codeSource, aead: encryptionKey}, nil
}

func (p *TOTPProvider) Approve(ctx context.Context, principal entities.Principal, operation, reason string) bool {
	encSeed, err := p.seeds.EncryptedSeed(ctx, principal)
	if err != nil || len(encSeed) == 0 {
		return false
	}

	seed, err := p.decrypt(encSeed)
	if err != nil {
		return false
	}

	code, err := p.codeSource(ctx, principal, operation)
	if err != nil || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, string(seed), nowTrunc(), defaultValidateOpts())
	return err == nil && ok
}

func (p *TOTPProvider) decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(p.aead)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, kernelerrors.ValidationFailure("ciphertext too short")
	}
	nonce, data := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, data, nil)
}

// EncryptSeed is the inverse of decrypt, used when provisioning a new
// TOTP seed for a principal.
func EncryptSeed(encryptionKey, seed, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(encryptionKey)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, seed, nil), nil
}
