package notifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEmailService_RequiresProvider(t *testing.T) {
	_, err := NewEmailService(zap.NewNop(), EmailServiceConfig{FromEmail: "kernel@example.com"})
	assert.Error(t, err)
}

func TestNewEmailService_RequiresFromEmail(t *testing.T) {
	_, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "smtp", SMTPHost: "localhost"})
	assert.Error(t, err)
}

func TestNewEmailService_SendgridRequiresAPIKey(t *testing.T) {
	_, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "sendgrid", FromEmail: "kernel@example.com"})
	assert.Error(t, err)
}

func TestNewEmailService_ResendRequiresAPIKey(t *testing.T) {
	_, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "resend", FromEmail: "kernel@example.com"})
	assert.Error(t, err)
}

func TestNewEmailService_SMTPRequiresHost(t *testing.T) {
	_, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "smtp", FromEmail: "kernel@example.com"})
	assert.Error(t, err)
}

func TestNewEmailService_SMTPDefaultsPort(t *testing.T) {
	svc, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "smtp", FromEmail: "kernel@example.com", SMTPHost: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, 1025, svc.config.SMTPPort)
}

func TestNewEmailService_UnsupportedProviderRejected(t *testing.T) {
	_, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "carrier-pigeon", FromEmail: "kernel@example.com"})
	assert.Error(t, err)
}

func TestNewEmailService_ConstructsBreaker(t *testing.T) {
	svc, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "smtp", FromEmail: "kernel@example.com", SMTPHost: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, svc.breaker)
}

func TestApprovalNotifier_NoOpWithoutApproverEmail(t *testing.T) {
	svc, err := NewEmailService(zap.NewNop(), EmailServiceConfig{Provider: "smtp", FromEmail: "kernel@example.com", SMTPHost: "localhost"})
	require.NoError(t, err)

	notifier := NewApprovalNotifier(svc, "")
	assert.NoError(t, notifier.NotifyApprovalRequested(context.Background(), "alice", "delete-account", "reason"))
	assert.NoError(t, notifier.NotifyApprovalDecided(context.Background(), "alice", "delete-account", true))
}

func TestIsNonProductionEnv(t *testing.T) {
	assert.True(t, isNonProductionEnv(""))
	assert.True(t, isNonProductionEnv("development"))
	assert.True(t, isNonProductionEnv("STAGING"))
	assert.False(t, isNonProductionEnv("production"))
}
