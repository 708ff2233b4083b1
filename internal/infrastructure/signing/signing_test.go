package signing

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/infrastructure/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	ref, err := s.Seal([]byte("pkcs12-secret"), "B12345678")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "sealed:v1:"))
	assert.NotContains(t, ref, "pkcs12-secret")

	plain, err := s.Open(ref, "B12345678")
	require.NoError(t, err)
	assert.Equal(t, "pkcs12-secret", string(plain))

	_, err = s.Open(ref, "B00000000")
	assert.Error(t, err, "reference is bound to its company")

	other, err := NewEphemeralSealer()
	require.NoError(t, err)
	_, err = other.Open(ref, "B12345678")
	assert.Error(t, err)
}

func TestSealer_Rejects(t *testing.T) {
	_, err := NewSealer("abcd")
	assert.Error(t, err)
	_, err = NewSealer("zz")
	assert.Error(t, err)

	s, _ := NewSealer(testKey)
	for _, ref := range []string{"", "plain", "sealed:v1:", "sealed:v1:!!!", "sealed:v1:AAAA"} {
		_, err := s.Open(ref, "B1")
		assert.ErrorIs(t, err, ErrMalformedRef, ref)
	}
}

func TestEnvelopeSigner_Sign(t *testing.T) {
	sealer, _ := NewSealer(testKey)
	store := storage.NewMemoryDocumentStore()
	signer := NewEnvelopeSigner(sealer, store, nil)

	company := invoicing.NewCompany("B12345678", "Acme SL")
	ref, err := sealer.Seal([]byte("cert"), company.TaxID)
	require.NoError(t, err)
	company.CertificateRef = ref

	inv := invoicing.NewInvoice(company.ID, uuid.New(), "F-1", time.Now(), nil, decimal.Zero, decimal.Zero)
	inv.Hash = strings.Repeat("a", 64)

	doc, err := signer.Sign(context.Background(), company, inv, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Len(t, doc.Digest, 64)
	assert.True(t, strings.HasPrefix(doc.Ref, "B12345678/"))

	stored, err := store.Get(context.Background(), doc.Ref)
	require.NoError(t, err)
	assert.Equal(t, doc.Body, stored)

	var env Envelope
	require.NoError(t, json.Unmarshal(stored, &env))
	assert.Equal(t, inv.Hash, env.Hash)

	ok, err := signer.VerifyEnvelope(company, stored)
	require.NoError(t, err)
	assert.True(t, ok)

	env.Canonical = "eyJhIjoyfQ=="
	tampered, _ := json.Marshal(env)
	ok, err = signer.VerifyEnvelope(company, tampered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnvelopeSigner_Failures(t *testing.T) {
	sealer, _ := NewSealer(testKey)
	signer := NewEnvelopeSigner(sealer, storage.NewMemoryDocumentStore(), nil)
	inv := &invoicing.Invoice{Number: "F-1"}

	company := invoicing.NewCompany("B12345678", "Acme SL")
	_, err := signer.Sign(context.Background(), company, inv, []byte("{}"))
	assert.ErrorIs(t, err, shared.ErrSigning)

	company.CertificateRef = "sealed:v1:garbage"
	_, err = signer.Sign(context.Background(), company, inv, []byte("{}"))
	assert.ErrorIs(t, err, shared.ErrSigning)
}
