// Package notifier adapts the teacher's multi-provider email adapter
// (internal/infrastructure/adapters/email_service.go) into the kernel's
// out-of-band approval channel: when a workflow calls human.approve on an
// IRREVERSIBLE operation, the configured approver gets an email with enough
// context to approve or deny out of band, independent of the TOTP path in
// internal/runtime/approval.
package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/pkg/circuitbreaker"
)

const resendAPIBaseURL = "https://api.resend.com"
const resendSandboxFromSender = "onboarding@resend.dev"

type EmailServiceConfig struct {
	Provider    string
	APIKey      string
	FromEmail   string
	FromName    string
	Environment string
	ReplyTo     string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPUseTLS   bool
}

// EmailService sends transactional email through whichever provider is
// configured, exactly the way the teacher's adapter picks a provider at
// construction time rather than per-send.
type EmailService struct {
	logger     *zap.Logger
	config     EmailServiceConfig
	client     *sendgrid.Client
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// breakerForProvider trips after a run of consecutive failures against the
// configured outbound provider, so a degraded sendgrid/resend endpoint
// doesn't stall every human.approve request behind a chain of timeouts.
func breakerForProvider(logger *zap.Logger, provider string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("email provider circuit breaker state change",
				zap.String("provider", provider), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

func NewEmailService(logger *zap.Logger, config EmailServiceConfig) (*EmailService, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))
	if provider == "" {
		return nil, fmt.Errorf("email provider is required")
	}
	if strings.TrimSpace(config.FromEmail) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	var (
		client     *sendgrid.Client
		httpClient *http.Client
	)

	switch provider {
	case "sendgrid":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid api key is required")
		}
		client = sendgrid.NewSendClient(config.APIKey)
	case "resend":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("resend api key is required")
		}
		httpClient = &http.Client{Timeout: 30 * time.Second}
	case "mailpit", "smtp":
		if config.SMTPHost == "" {
			return nil, fmt.Errorf("smtp host is required for %s provider", provider)
		}
		if config.SMTPPort == 0 {
			config.SMTPPort = 1025
		}
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", provider)
	}

	return &EmailService{
		logger:     logger,
		config:     config,
		client:     client,
		httpClient: httpClient,
		breaker:    breakerForProvider(logger, provider),
	}, nil
}

func (e *EmailService) sendEmail(ctx context.Context, to, subject, htmlContent, textContent string) error {
	provider := strings.ToLower(e.config.Provider)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return e.breaker.Execute(ctxWithTimeout, func() error {
		switch provider {
		case "resend":
			return e.sendViaResend(ctxWithTimeout, to, subject, htmlContent, textContent)
		case "sendgrid":
			return e.sendViaSendgrid(ctxWithTimeout, to, subject, htmlContent, textContent)
		case "mailpit", "smtp":
			return e.sendViaSMTP(ctxWithTimeout, to, subject, htmlContent, textContent)
		default:
			return fmt.Errorf("unsupported email provider: %s", provider)
		}
	})
}

func (e *EmailService) sendViaSendgrid(ctx context.Context, to, subject, htmlContent, textContent string) error {
	if e.client == nil {
		return fmt.Errorf("sendgrid client not configured")
	}

	from := mail.NewEmail(e.config.FromName, e.config.FromEmail)
	toEmail := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, toEmail, textContent, htmlContent)

	if strings.TrimSpace(e.config.ReplyTo) != "" {
		message.SetReplyTo(mail.NewEmail(e.config.FromName, e.config.ReplyTo))
	}

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		e.logger.Error("failed to send approval email", zap.String("provider", "sendgrid"), zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		e.logger.Error("sendgrid returned error", zap.Int("status_code", response.StatusCode), zap.String("response_body", response.Body))
		return fmt.Errorf("email service error: status %d", response.StatusCode)
	}
	return nil
}

func (e *EmailService) sendViaResend(ctx context.Context, to, subject, htmlContent, textContent string) error {
	if e.httpClient == nil {
		return fmt.Errorf("resend client not configured")
	}

	fromEmail := strings.TrimSpace(e.config.FromEmail)
	from := fromEmail
	if strings.TrimSpace(e.config.FromName) != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, fromEmail)
	}

	if isNonProductionEnv(e.config.Environment) {
		domainParts := strings.SplitN(fromEmail, "@", 2)
		if len(domainParts) == 2 && strings.ToLower(strings.TrimSpace(domainParts[1])) != "resend.dev" {
			from = resendSandboxFromSender
		}
	}

	payload := map[string]any{"from": from, "to": []string{to}, "subject": subject, "html": htmlContent}
	if textContent != "" {
		payload["text"] = textContent
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendAPIBaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		e.logger.Error("resend returned error", zap.Int("status_code", resp.StatusCode), zap.String("response_body", string(respBody)))
		return fmt.Errorf("resend email error: status %d", resp.StatusCode)
	}
	return nil
}

func (e *EmailService) sendViaSMTP(_ context.Context, to, subject, htmlContent, _ string) error {
	from := e.config.FromEmail
	if e.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, e.config.FromEmail)
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlContent)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	var auth smtp.Auth
	if e.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.config.SMTPUsername, e.config.SMTPPassword, e.config.SMTPHost)
	}

	var err error
	if e.config.SMTPUseTLS {
		err = e.sendSMTPWithTLS(addr, auth, e.config.FromEmail, to, msg.Bytes())
	} else {
		err = e.sendSMTPWithSTARTTLS(addr, auth, e.config.FromEmail, to, msg.Bytes())
	}
	if err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (e *EmailService) sendSMTPWithTLS(addr string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, &tls.Config{ServerName: e.config.SMTPHost})
	if err != nil {
		return fmt.Errorf("tls dial failed: %w", err)
	}
	defer conn.Close()
	return deliverSMTP(conn, e.config.SMTPHost, auth, from, to, msg)
}

func (e *EmailService) sendSMTPWithSTARTTLS(addr string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.SMTPHost)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.config.SMTPHost}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	return sendOverClient(client, auth, from, to, msg)
}

func deliverSMTP(conn net.Conn, host string, auth smtp.Auth, from, to string, msg []byte) error {
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()
	return sendOverClient(client, auth, from, to, msg)
}

func sendOverClient(client *smtp.Client, auth smtp.Auth, from, to string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func isNonProductionEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "staging", "test", "testing":
		return true
	default:
		return false
	}
}

// ApprovalNotifier is the human.approve out-of-band channel: it emails the
// configured approver whenever a workflow requests approval for an
// irreversible operation.
type ApprovalNotifier struct {
	email         *EmailService
	approverEmail string
}

func NewApprovalNotifier(email *EmailService, approverEmail string) *ApprovalNotifier {
	return &ApprovalNotifier{email: email, approverEmail: approverEmail}
}

// NotifyApprovalRequested emails the approver describing which principal
// requested approval for which operation, and why.
func (n *ApprovalNotifier) NotifyApprovalRequested(ctx context.Context, principal, operation, reason string) error {
	if n.approverEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("Approval requested: %s", operation)
	html := fmt.Sprintf("<p>Principal <b>%s</b> requested human approval for <b>%s</b>.</p><p>Reason: %s</p>", principal, operation, reason)
	text := fmt.Sprintf("Principal %s requested human approval for %s.\nReason: %s", principal, operation, reason)
	return n.email.sendEmail(ctx, n.approverEmail, subject, html, text)
}

// NotifyApprovalDecided emails the approver once a decision has been
// recorded, closing the loop for audit purposes.
func (n *ApprovalNotifier) NotifyApprovalDecided(ctx context.Context, principal, operation string, approved bool) error {
	if n.approverEmail == "" {
		return nil
	}
	decision := "denied"
	if approved {
		decision = "approved"
	}
	subject := fmt.Sprintf("Approval %s: %s", decision, operation)
	html := fmt.Sprintf("<p>Request from <b>%s</b> for <b>%s</b> was %s.</p>", principal, operation, decision)
	text := fmt.Sprintf("Request from %s for %s was %s.", principal, operation, decision)
	return n.email.sendEmail(ctx, n.approverEmail, subject, html, text)
}
