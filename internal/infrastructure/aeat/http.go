package aeat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoEndpoint is returned when the real transport has no endpoint configured
var ErrNoEndpoint = errors.New("aeat endpoint is not configured")

const maxResponseBytes = 1 << 20

// Request is the JSON body posted to the authority gateway
type Request struct {
	InvoiceID    string `json:"invoiceId"`
	CompanyTaxID string `json:"companyTaxId"`
	Number       string `json:"number"`
	HashBefore   string `json:"hashBefore"`
	Hash         string `json:"hash"`
	DocumentRef  string `json:"documentRef"`
	Digest       string `json:"digest"`
	Document     []byte `json:"document"`
}

// StatusError is a non-2xx answer from the gateway
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("aeat gateway returned %d: %s", e.StatusCode, e.Body)
}

// HTTPTransmitter posts signed documents to the authority gateway. The
// outcome arrives later through the webhook, so receipts carry no Outcome.
type HTTPTransmitter struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// HTTPConfig configures an HTTPTransmitter
type HTTPConfig struct {
	Endpoint       string
	RatePerSecond  float64
	RequestTimeout time.Duration
	Client         *http.Client
	Logger         *zap.Logger
}

// NewHTTPTransmitter creates the real transport. A rate of zero or less
// disables limiting.
func NewHTTPTransmitter(cfg HTTPConfig) (*HTTPTransmitter, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(1, int(cfg.RatePerSecond))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransmitter{
		endpoint: cfg.Endpoint,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}, nil
}

var _ verifactu.Transmitter = (*HTTPTransmitter)(nil)

// Transmit implements verifactu.Transmitter
func (h *HTTPTransmitter) Transmit(ctx context.Context, t verifactu.Transmission) (verifactu.TransmissionReceipt, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		// Wait fails early when the token would arrive after the deadline.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return verifactu.TransmissionReceipt{}, fmt.Errorf("rate limit: %v: %w", err, context.DeadlineExceeded)
		}
		return verifactu.TransmissionReceipt{}, fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(Request{
		InvoiceID:    t.InvoiceID.String(),
		CompanyTaxID: t.CompanyTaxID,
		Number:       t.Number,
		HashBefore:   t.HashBefore,
		Hash:         t.Hash,
		DocumentRef:  t.Document.Ref,
		Digest:       t.Document.Digest,
		Document:     t.Document.Body,
	})
	if err != nil {
		return verifactu.TransmissionReceipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return verifactu.TransmissionReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", t.InvoiceID.String()+":"+t.Hash)

	resp, err := h.client.Do(req)
	if err != nil {
		return verifactu.TransmissionReceipt{}, fmt.Errorf("post to aeat gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return verifactu.TransmissionReceipt{}, fmt.Errorf("read aeat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return verifactu.TransmissionReceipt{}, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	h.logger.Info("Invoice transmitted",
		zap.String("invoice_id", t.InvoiceID.String()),
		zap.Int("status", resp.StatusCode),
	)
	return verifactu.TransmissionReceipt{Raw: string(raw)}, nil
}
