// Package security adapts the teacher's webhook replay-protection stack to
// IPC requests: IPCReplayGuard checks a request ID, a nonce and a
// timestamp, and authenticates the body with an HMAC keyed on the calling
// principal's shared secret the same way a webhook payload was
// authenticated against a provider secret. internal/runtime/ipc does not
// call the guard; its Request carries none of those fields.
package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IPCReplayGuard rejects duplicate or stale IPC requests and verifies their
// HMAC signature against the calling principal's registered secret.
type IPCReplayGuard struct {
	redis       *redis.Client
	logger      *zap.Logger
	secrets     map[string]string // principal -> shared secret
	windowSize  time.Duration
	maxNonceAge time.Duration
}

type ReplayGuardConfig struct {
	WindowSize  time.Duration
	MaxNonceAge time.Duration
}

func DefaultReplayGuardConfig() ReplayGuardConfig {
	return ReplayGuardConfig{
		WindowSize:  5 * time.Minute,
		MaxNonceAge: 5 * time.Minute,
	}
}

// ProtectedRequest is an IPC request that has passed replay and signature
// checks.
type ProtectedRequest struct {
	RequestID string
	Nonce     string
	Timestamp int64
	Principal string
	RawBody   []byte
}

func NewIPCReplayGuard(redisClient *redis.Client, secrets map[string]string, config ReplayGuardConfig, logger *zap.Logger) *IPCReplayGuard {
	return &IPCReplayGuard{
		redis:       redisClient,
		logger:      logger,
		secrets:     secrets,
		windowSize:  config.WindowSize,
		maxNonceAge: config.MaxNonceAge,
	}
}

// Validate checks timestamp freshness, request-ID and nonce uniqueness, and
// the HMAC signature, in that order, then records the request ID and nonce
// so a retransmit is rejected.
func (g *IPCReplayGuard) Validate(
	ctx context.Context,
	rawBody []byte,
	signature string,
	principal string,
	requestID string,
	nonce string,
	timestamp int64,
) (*ProtectedRequest, error) {
	if err := g.validateTimestamp(timestamp); err != nil {
		g.logger.Warn("ipc request timestamp validation failed", zap.String("principal", principal), zap.Error(err))
		return nil, fmt.Errorf("timestamp validation failed: %w", err)
	}

	if requestID != "" {
		if err := g.checkDuplicate(ctx, "request", principal, requestID); err != nil {
			g.logger.Warn("duplicate ipc request detected", zap.String("principal", principal), zap.String("request_id", requestID))
			return nil, err
		}
	}

	if nonce != "" {
		if err := g.checkDuplicate(ctx, "nonce", principal, nonce); err != nil {
			g.logger.Warn("ipc nonce reuse detected", zap.String("principal", principal), zap.String("nonce", nonce))
			return nil, err
		}
	}

	if err := g.verifySignature(rawBody, signature, principal); err != nil {
		g.logger.Warn("ipc request signature verification failed", zap.String("principal", principal), zap.Error(err))
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	if err := g.storeRequestData(ctx, principal, requestID, nonce); err != nil {
		g.logger.Error("failed to store ipc replay-guard state", zap.Error(err))
	}

	return &ProtectedRequest{RequestID: requestID, Nonce: nonce, Timestamp: timestamp, Principal: principal, RawBody: rawBody}, nil
}

func (g *IPCReplayGuard) validateTimestamp(timestamp int64) error {
	if timestamp == 0 {
		return nil
	}
	eventTime := time.Unix(timestamp, 0)
	now := time.Now()
	if now.Sub(eventTime) > g.maxNonceAge {
		return fmt.Errorf("request timestamp too old: %v (max age: %v)", eventTime, g.maxNonceAge)
	}
	if eventTime.Sub(now) > g.windowSize {
		return fmt.Errorf("request timestamp too far in future: %v", eventTime)
	}
	return nil
}

func (g *IPCReplayGuard) checkDuplicate(ctx context.Context, kind, principal, value string) error {
	key := fmt.Sprintf("ipc:%s:%s:%s", kind, principal, value)
	exists, err := g.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("checking %s uniqueness: %w", kind, err)
	}
	if exists > 0 {
		return fmt.Errorf("%s already used: %s", kind, value)
	}
	return nil
}

func (g *IPCReplayGuard) verifySignature(payload []byte, signature, principal string) error {
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	secret, ok := g.secrets[principal]
	if !ok {
		return fmt.Errorf("unknown principal: %s", principal)
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	sig := signature
	for _, prefix := range []string{"sha256=", "hmac-sha256=", "v1="} {
		if len(sig) > len(prefix) && sig[:len(prefix)] == prefix {
			sig = sig[len(prefix):]
			break
		}
	}

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (g *IPCReplayGuard) storeRequestData(ctx context.Context, principal, requestID, nonce string) error {
	pipe := g.redis.Pipeline()
	if requestID != "" {
		pipe.Set(ctx, fmt.Sprintf("ipc:request:%s:%s", principal, requestID), "1", g.maxNonceAge*2)
	}
	if nonce != "" {
		pipe.Set(ctx, fmt.Sprintf("ipc:nonce:%s:%s", principal, nonce), "1", g.windowSize)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PrincipalIPWhitelist restricts which source addresses may speak for a
// given principal over a TCP-exposed IPC bridge (the Unix-socket path is
// already host-local; this guards an optional network listener).
type PrincipalIPWhitelist struct {
	allowedIPs map[string][]string
	logger     *zap.Logger
}

func NewPrincipalIPWhitelist(allowedIPs map[string][]string, logger *zap.Logger) *PrincipalIPWhitelist {
	return &PrincipalIPWhitelist{allowedIPs: allowedIPs, logger: logger}
}

func (w *PrincipalIPWhitelist) ValidateIP(principal, clientIP string) error {
	allowedCIDRs, exists := w.allowedIPs[principal]
	if !exists || len(allowedCIDRs) == 0 {
		return nil
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		return fmt.Errorf("invalid IP address: %s", clientIP)
	}

	for _, cidr := range allowedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			if allowedIP := net.ParseIP(cidr); allowedIP != nil && allowedIP.Equal(ip) {
				return nil
			}
			continue
		}
		if ipNet.Contains(ip) {
			return nil
		}
	}

	w.logger.Warn("ipc source not whitelisted", zap.String("principal", principal), zap.String("client_ip", clientIP))
	return fmt.Errorf("IP not whitelisted: %s", clientIP)
}
