// Package di wires the kernel's subsystems together the way the
// teacher's internal/app package hand-assembles its services in one
// place instead of through a reflective container, so the dependency
// graph between C1 through C6 stays visible in one file.
package di

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/services/audit"
	"github.com/capkernel/kernel/internal/domain/services/capability"
	"github.com/capkernel/kernel/internal/domain/services/objectmanager"
	"github.com/capkernel/kernel/internal/domain/services/session"
	"github.com/capkernel/kernel/internal/domain/services/transaction"
	"github.com/capkernel/kernel/internal/infrastructure/config"
	"github.com/capkernel/kernel/internal/infrastructure/notifier"
	"github.com/capkernel/kernel/internal/infrastructure/repositories"
	"github.com/capkernel/kernel/internal/runtime"
	"github.com/capkernel/kernel/internal/runtime/approval"
	"github.com/capkernel/kernel/internal/runtime/ipc"
	"github.com/capkernel/kernel/pkg/ratelimit"
	"github.com/capkernel/kernel/pkg/security"
)

// Container holds every wired subsystem the application entrypoint and
// the admin API need, assembled once at startup.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Audit       *audit.Service
	Objects     *objectmanager.Service
	Capability  *capability.Service
	Session     *session.Service
	Transaction *transaction.Service

	Approval  approval.Provider
	SeedStore *approval.StaticSeedStore
	Executor  *runtime.Executor
	IPCServer *ipc.Server

	Notifier       *notifier.EmailService
	ApprovalNotify *notifier.ApprovalNotifier

	RateLimiter   *ratelimit.TieredLimiter
	DistRateLimit *ratelimit.DistributedRateLimiter
	ReplayGuard   *security.IPCReplayGuard
}

// New builds the full dependency graph: C1 (audit) and C2 (objects) have
// no dependencies on the others, C3 (capability) depends on C1, C4
// (session) depends on C3, and C5 (transaction)/C6 (runtime) sit on top
// of all four.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, db *sqlx.DB, redisClient *redis.Client) (*Container, error) {
	auditRepo := repositories.NewAuditRepository(db)
	grantRepo := repositories.NewGrantRepository(db)
	revocationRepo := repositories.NewRevocationRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	auditSvc := audit.NewService(auditRepo, log, cfg.AuditSalt)
	objectsSvc := objectmanager.NewService()
	capabilitySvc := capability.NewService(revocationRepo, auditSvc, log)
	if err := capabilitySvc.LoadRevocations(ctx); err != nil {
		return nil, fmt.Errorf("loading revocation set: %w", err)
	}

	sessionSvc := session.NewService(sessionRepo, grantRepo, revocationRepo, redisClient, capabilitySvc, log)
	transactionSvc := transaction.NewService(objectsSvc, auditSvc)

	approvalProvider, seedStore, err := buildApprovalProvider(cfg.Approval)
	if err != nil {
		return nil, fmt.Errorf("building approval provider: %w", err)
	}

	emailService, err := notifier.NewEmailService(log, notifier.EmailServiceConfig{
		Provider:     cfg.Notifier.Provider,
		APIKey:       cfg.Notifier.SendGridAPIKey,
		FromEmail:    cfg.Notifier.FromEmail,
		FromName:     cfg.Notifier.FromName,
		Environment:  cfg.Environment,
		ReplyTo:      cfg.Notifier.ReplyTo,
		SMTPHost:     cfg.Notifier.SMTPHost,
		SMTPPort:     cfg.Notifier.SMTPPort,
		SMTPUsername: cfg.Notifier.SMTPUsername,
		SMTPPassword: cfg.Notifier.SMTPPassword,
		SMTPUseTLS:   cfg.Notifier.SMTPUseTLS,
	})
	if err != nil {
		log.Warn("approval notifier disabled: email service unavailable", zap.Error(err))
	}
	var approvalNotify *notifier.ApprovalNotifier
	// runtime.ApprovalChannel must stay a nil interface, not an interface
	// wrapping a nil *ApprovalNotifier, or browserapi.go's "notify != nil"
	// guard would let a nil-receiver call through.
	var notifyChannel runtime.ApprovalChannel
	if emailService != nil {
		approvalNotify = notifier.NewApprovalNotifier(emailService, cfg.Notifier.ApproverEmail)
		notifyChannel = approvalNotify
	}

	openTx := runtime.NewTxOpener(transactionSvc)
	executor := runtime.NewExecutor(objectsSvc, capabilitySvc, auditSvc, approvalProvider, openTx, cfg.Runtime.ExecutionTimeout, cfg.Runtime.KernelVersion, notifyChannel)
	ipcHandler := runtime.NewIPCHandler(executor)
	ipcServer := ipc.NewServer(cfg.IPC.SocketPath, cfg.IPC.MaxFrameLen, ipcHandler, log)

	tieredLimiter := ratelimit.NewTieredLimiter(redisClient,
		ratelimit.RateLimit{MaxRequests: cfg.RateLimit.GlobalLimit, Window: time.Minute},
		ratelimit.RateLimit{MaxRequests: cfg.RateLimit.IPLimit, Window: time.Minute},
		ratelimit.RateLimit{MaxRequests: cfg.RateLimit.UserLimit, Window: time.Minute},
	)
	distRateLimit := ratelimit.NewDistributedRateLimiter(tieredLimiter, cfg.RateLimit, log)

	replayGuard := security.NewIPCReplayGuard(redisClient, map[string]string{}, security.DefaultReplayGuardConfig(), log)

	return &Container{
		Config:         cfg,
		Logger:         log,
		DB:             db,
		Redis:          redisClient,
		Audit:          auditSvc,
		Objects:        objectsSvc,
		Capability:     capabilitySvc,
		Session:        sessionSvc,
		Transaction:    transactionSvc,
		Approval:       approvalProvider,
		SeedStore:      seedStore,
		Executor:       executor,
		IPCServer:      ipcServer,
		Notifier:       emailService,
		ApprovalNotify: approvalNotify,
		RateLimiter:    tieredLimiter,
		DistRateLimit:  distRateLimit,
		ReplayGuard:    replayGuard,
	}, nil
}

// buildApprovalProvider wires a TOTPProvider when an encryption key is
// configured, falling back to the always-deny default otherwise, so a
// deployment that hasn't enrolled any approver still starts safely.
func buildApprovalProvider(cfg config.ApprovalConfig) (approval.Provider, *approval.StaticSeedStore, error) {
	if cfg.EncryptionKeyHex == "" {
		return approval.DenyAllProvider{}, nil, nil
	}

	key, err := hex.DecodeString(cfg.EncryptionKeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding approval encryption key: %w", err)
	}

	seedStore := approval.NewStaticSeedStore()

	provider, err := approval.NewTOTPProvider(seedStore, noInteractiveCodeSource, key)
	if err != nil {
		return nil, nil, err
	}
	return provider, seedStore, nil
}

// noInteractiveCodeSource is the default CodeSource: until the IPC
// protocol carries an approval code alongside an execute request, every
// TOTP check fails closed rather than silently approving.
func noInteractiveCodeSource(_ context.Context, principal entities.Principal, operation string) (string, error) {
	return "", fmt.Errorf("no approval code supplied for %s on %s", principal, operation)
}
