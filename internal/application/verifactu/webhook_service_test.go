package verifactu

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type webhookFixture struct {
	store    *memStore
	notifier *fakeNotifier
	svc      *WebhookService
}

func newWebhookFixture() *webhookFixture {
	f := &webhookFixture{store: newMemStore(), notifier: &fakeNotifier{}}
	f.svc = NewWebhookService(WebhookConfig{
		Invoices:    invoiceRepo{f.store},
		Idempotency: newMemIdempotency(),
		Notifier:    f.notifier,
		Secret:      testSecret,
		Tolerance:   5 * time.Minute,
		Now:         fixedNow,
	})
	return f
}

func (f *webhookFixture) sentInvoice(t *testing.T) *invoicing.Invoice {
	t.Helper()
	company, client := seedCompany(f.store, "B12121212")
	inv := seedPending(f.store, company, client, "W-1")
	inv.Status = invoicing.StatusSent
	inv.HashBefore = ""
	inv.Hash = strings.Repeat("ab", 32)
	inv.ChainSequence = 1
	f.store.putInvoice(inv)
	return inv
}

func payloadFor(t *testing.T, p WebhookPayload) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func signedAt(at time.Time, body []byte) (sig, ts string) {
	ts = strconv.FormatInt(at.UnixMilli(), 10)
	return SignWebhook([]byte(testSecret), ts, body), ts
}

func TestWebhook_AcceptsValidCallback(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)
	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), TxID: "TX-1", Status: "ACCEPTED", QRPayload: "qr-data", SignedHash: inv.Hash})
	sig, ts := signedAt(testNow, body)

	res, err := f.svc.Handle(context.Background(), body, sig, ts)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, invoicing.StatusAccepted, res.Status)

	stored := f.store.invoice(t, inv.ID)
	assert.Equal(t, invoicing.StatusAccepted, stored.Status)
	assert.Equal(t, "TX-1", stored.AckCode)
	assert.Equal(t, "qr-data", stored.QRPayload)
	assert.Equal(t, inv.Hash, stored.Hash, "chain fields untouched")
	assert.Len(t, f.notifier.resolved, 1)
}

func TestWebhook_RejectsReplayedTimestamp(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)
	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), Status: "ACCEPTED"})

	for _, skew := range []time.Duration{-10 * time.Minute, 10 * time.Minute} {
		sig, ts := signedAt(testNow.Add(skew), body)
		_, err := f.svc.Handle(context.Background(), body, sig, ts)
		assert.ErrorIs(t, err, shared.ErrAuthentication)
	}
	assert.Equal(t, invoicing.StatusSent, f.store.invoice(t, inv.ID).Status)
}

func TestWebhook_AuthenticationFailures(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)
	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), Status: "ACCEPTED"})
	sig, ts := signedAt(testNow, body)

	tests := []struct {
		name string
		body []byte
		sig  string
		ts   string
	}{
		{"missing signature", body, "", ts},
		{"missing timestamp", body, sig, ""},
		{"non-integer timestamp", body, sig, "yesterday"},
		{"tampered body", append([]byte(" "), body...), sig, ts},
		{"wrong secret", body, SignWebhook([]byte("other"), ts, body), ts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Handle(context.Background(), tt.body, tt.sig, tt.ts)
			assert.ErrorIs(t, err, shared.ErrAuthentication)
		})
	}
	assert.Equal(t, invoicing.StatusSent, f.store.invoice(t, inv.ID).Status)
}

func TestWebhook_DuplicateIsNoop(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)
	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), TxID: "TX-2", Status: "ACCEPTED"})
	sig, ts := signedAt(testNow, body)

	first, err := f.svc.Handle(context.Background(), body, sig, ts)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	version := f.store.invoice(t, inv.ID).Version

	second, err := f.svc.Handle(context.Background(), body, sig, ts)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, invoicing.StatusAccepted, second.Status)
	assert.Equal(t, version, f.store.invoice(t, inv.ID).Version, "no second transition")
	assert.Len(t, f.notifier.resolved, 1)
}

func TestWebhook_HashMismatchRejects(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)
	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), Status: "ACCEPTED", SignedHash: strings.Repeat("cd", 32)})
	sig, ts := signedAt(testNow, body)

	res, err := f.svc.Handle(context.Background(), body, sig, ts)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusRejected, res.Status)
	stored := f.store.invoice(t, inv.ID)
	assert.Equal(t, shared.CodeHashMismatch, stored.LastErrorCode)
}

func TestWebhook_RejectedCallbackKeepsErrorCode(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)
	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), Status: "REJECTED", ErrorCode: "4102", Message: "NIF not registered"})
	sig, ts := signedAt(testNow, body)

	res, err := f.svc.Handle(context.Background(), body, sig, ts)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusRejected, res.Status)
	stored := f.store.invoice(t, inv.ID)
	assert.Equal(t, "4102", stored.LastErrorCode)
	assert.Equal(t, "NIF not registered", stored.LastError)
}

func TestWebhook_PayloadAndStateErrors(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)

	t.Run("malformed json", func(t *testing.T) {
		body := []byte(`{"invoiceId":`)
		sig, ts := signedAt(testNow, body)
		_, err := f.svc.Handle(context.Background(), body, sig, ts)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
	t.Run("unknown status", func(t *testing.T) {
		body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), Status: "MAYBE"})
		sig, ts := signedAt(testNow, body)
		_, err := f.svc.Handle(context.Background(), body, sig, ts)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
	t.Run("unknown invoice", func(t *testing.T) {
		body := payloadFor(t, WebhookPayload{InvoiceID: uuid.NewString(), Status: "ACCEPTED"})
		sig, ts := signedAt(testNow, body)
		_, err := f.svc.Handle(context.Background(), body, sig, ts)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
	t.Run("not awaiting outcome", func(t *testing.T) {
		company, client := seedCompany(f.store, "B34343434")
		pending := seedPending(f.store, company, client, "W-2")
		body := payloadFor(t, WebhookPayload{InvoiceID: pending.ID.String(), Status: "ACCEPTED"})
		sig, ts := signedAt(testNow, body)
		_, err := f.svc.Handle(context.Background(), body, sig, ts)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})
}

func TestWebhook_LateCallbackAfterTimeout(t *testing.T) {
	f := newWebhookFixture()
	inv := f.sentInvoice(t)
	inv = f.store.invoice(t, inv.ID)
	inv.Status = invoicing.StatusTimeout
	f.store.putInvoice(inv)

	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), TxID: "TX-late", Status: "ACCEPTED"})
	sig, ts := signedAt(testNow, body)
	res, err := f.svc.Handle(context.Background(), body, sig, ts)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusAccepted, res.Status)
}

func TestWebhook_RejectsCallbackForUnchainedTimeout(t *testing.T) {
	f := newWebhookFixture()
	company, client := seedCompany(f.store, "B34343434")
	inv := seedPending(f.store, company, client, "W-9")
	require.NoError(t, inv.BeginProcessing(testNow))
	require.NoError(t, inv.MarkTimedOut("stuck in PROCESSING", testNow))
	f.store.putInvoice(inv)

	body := payloadFor(t, WebhookPayload{InvoiceID: inv.ID.String(), TxID: "TX-9", Status: "ACCEPTED"})
	sig, ts := signedAt(testNow, body)
	res, err := f.svc.Handle(context.Background(), body, sig, ts)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	stored := f.store.invoice(t, inv.ID)
	assert.Equal(t, invoicing.StatusTimeout, stored.Status)
	assert.Empty(t, stored.Hash)
	assert.Empty(t, stored.AckCode)
	assert.Empty(t, f.notifier.resolved)
}
