package verifactu

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Webhook outcome labels reported to the Recorder
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookRejected  = "rejected"
)

// WebhookPayload is the authority's status callback
type WebhookPayload struct {
	InvoiceID  string `json:"invoiceId" validate:"required,uuid"`
	TxID       string `json:"txId" validate:"max=128"`
	Status     string `json:"status" validate:"required,oneof=ACCEPTED REJECTED"`
	QRPayload  string `json:"qrPayload" validate:"max=4096"`
	SignedHash string `json:"signedHash" validate:"max=128"`
	Message    string `json:"message" validate:"max=1024"`
	ErrorCode  string `json:"errorCode" validate:"max=64"`
}

// WebhookResult is the acknowledgement for one callback
type WebhookResult struct {
	InvoiceID uuid.UUID
	Status    invoicing.Status
	Duplicate bool
}

// WebhookConfig wires the webhook receiver
type WebhookConfig struct {
	Invoices       invoicing.InvoiceRepository
	Idempotency    shared.IdempotencyStore
	Notifier       Notifier
	Recorder       Recorder
	Logger         *zap.Logger
	Secret         string
	Tolerance      time.Duration
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

// WebhookService authenticates outcome callbacks and resolves invoices.
// It only touches invoice status fields, never a company's chain tip.
type WebhookService struct {
	invoices    invoicing.InvoiceRepository
	idempotency shared.IdempotencyStore
	notifier    Notifier
	recorder    Recorder
	logger      *zap.Logger
	secret      []byte
	tolerance   time.Duration
	ttl         time.Duration
	validate    *validator.Validate
	now         func() time.Time
}

// NewWebhookService creates a WebhookService
func NewWebhookService(cfg WebhookConfig) *WebhookService {
	s := &WebhookService{
		invoices:    cfg.Invoices,
		idempotency: cfg.Idempotency,
		notifier:    cfg.Notifier,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		secret:      []byte(cfg.Secret),
		tolerance:   cfg.Tolerance,
		ttl:         cfg.IdempotencyTTL,
		validate:    validator.New(),
		now:         cfg.Now,
	}
	if s.recorder == nil {
		s.recorder = NopRecorder()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tolerance <= 0 {
		s.tolerance = 5 * time.Minute
	}
	if s.ttl <= 0 {
		s.ttl = 7 * 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SignWebhook computes the signature header value for a callback body
func SignWebhook(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Authenticate checks headers, freshness and signature, in that order
func (s *WebhookService) Authenticate(raw []byte, signature, timestamp string) error {
	if signature == "" || timestamp == "" {
		return shared.NewDomainError(shared.CodeAuthentication, "missing signature or timestamp header")
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return shared.NewDomainError(shared.CodeAuthentication, "timestamp is not an integer")
	}
	skew := s.now().Sub(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.tolerance {
		return shared.NewDomainErrorf(shared.CodeAuthentication, "timestamp outside the %s window", s.tolerance)
	}
	if len(s.secret) == 0 {
		return shared.NewDomainError(shared.CodeAuthentication, "webhook secret not configured")
	}
	expected := SignWebhook(s.secret, timestamp, raw)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return shared.NewDomainError(shared.CodeAuthentication, "signature mismatch")
	}
	return nil
}

// Handle authenticates and applies one callback. A callback for an
// invoice that already reached ACCEPTED or REJECTED is acknowledged as a
// duplicate without side effects.
func (s *WebhookService) Handle(ctx context.Context, raw []byte, signature, timestamp string) (*WebhookResult, error) {
	if err := s.Authenticate(raw, signature, timestamp); err != nil {
		s.recorder.WebhookHandled(ctx, WebhookRejected)
		s.logger.Warn("Webhook rejected", zap.Error(err))
		return nil, err
	}

	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, shared.NewDomainErrorf(shared.CodeInvalidInput, "malformed payload: %v", err)
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, shared.NewDomainErrorf(shared.CodeInvalidInput, "invalid payload: %v", err)
	}
	invoiceID := uuid.MustParse(payload.InvoiceID)

	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status.IsTerminal() {
		return s.duplicate(ctx, inv), nil
	}
	if !inv.Status.AwaitsOutcome() {
		return nil, shared.NewDomainErrorf(shared.CodeInvalidState, "invoice %s is %s and not awaiting an outcome", inv.ID, inv.Status)
	}
	if !inv.IsChained() {
		return nil, shared.NewDomainErrorf(shared.CodeInvalidState, "invoice %s timed out before transmission", inv.ID)
	}

	outcome := s.outcomeFor(payload, inv)
	target := invoicing.StatusRejected
	if outcome.Accepted {
		target = invoicing.StatusAccepted
	}

	key := inv.ID.String() + ":" + target.String()
	if s.idempotency != nil {
		fresh, err := s.idempotency.MarkProcessed(ctx, key, s.ttl)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return s.duplicate(ctx, inv), nil
		}
	}

	result, err := s.resolve(ctx, inv, outcome)
	if err != nil && s.idempotency != nil {
		if ferr := s.idempotency.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			s.logger.Warn("Failed to release webhook idempotency key", zap.String("key", key), zap.Error(ferr))
		}
	}
	return result, err
}

func (s *WebhookService) outcomeFor(p WebhookPayload, inv *invoicing.Invoice) invoicing.Outcome {
	outcome := invoicing.Outcome{
		Accepted:  p.Status == string(invoicing.StatusAccepted),
		AckCode:   p.TxID,
		QRPayload: p.QRPayload,
		ErrorCode: p.ErrorCode,
		Message:   p.Message,
	}
	if p.SignedHash != "" && !strings.EqualFold(p.SignedHash, inv.Hash) {
		outcome.Accepted = false
		outcome.QRPayload = ""
		outcome.ErrorCode = shared.CodeHashMismatch
		outcome.Message = "signed hash " + p.SignedHash + " does not match invoice hash " + inv.Hash
	}
	return outcome
}

func (s *WebhookService) resolve(ctx context.Context, inv *invoicing.Invoice, outcome invoicing.Outcome) (*WebhookResult, error) {
	if err := inv.Resolve(outcome, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.invoices.Update(ctx, inv); err != nil {
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return nil, err
		}
		stored, ferr := s.invoices.FindByID(ctx, inv.ID)
		if ferr != nil {
			return nil, ferr
		}
		if stored.Status.IsTerminal() {
			return s.duplicate(ctx, stored), nil
		}
		return nil, err
	}

	s.recorder.WebhookHandled(ctx, WebhookProcessed)
	s.logger.Info("Invoice resolved by callback",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("status", inv.Status.String()),
		zap.String("error_code", inv.LastErrorCode),
	)
	if s.notifier != nil {
		if err := s.notifier.InvoiceResolved(ctx, inv); err != nil {
			s.logger.Warn("Resolution notification failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		}
	}
	return &WebhookResult{InvoiceID: inv.ID, Status: inv.Status}, nil
}

func (s *WebhookService) duplicate(ctx context.Context, inv *invoicing.Invoice) *WebhookResult {
	s.recorder.WebhookHandled(ctx, WebhookDuplicate)
	s.logger.Debug("Duplicate webhook acknowledged", zap.String("invoice_id", inv.ID.String()))
	return &WebhookResult{InvoiceID: inv.ID, Status: inv.Status, Duplicate: true}
}
