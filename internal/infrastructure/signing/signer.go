package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/infrastructure/storage"
	"go.uber.org/zap"
)

// Envelope is the signed document stored for every transmitted invoice
type Envelope struct {
	InvoiceID    string    `json:"invoiceId"`
	CompanyTaxID string    `json:"companyTaxId"`
	Number       string    `json:"number"`
	HashBefore   string    `json:"hashBefore"`
	Hash         string    `json:"hash"`
	Canonical    string    `json:"canonical"`
	Algorithm    string    `json:"algorithm"`
	Signature    string    `json:"signature"`
	SignedAt     time.Time `json:"signedAt"`
}

// EnvelopeSigner signs the canonical bytes with the company's unsealed
// certificate secret and stores the envelope in the document store.
type EnvelopeSigner struct {
	sealer *Sealer
	store  storage.DocumentStore
	now    func() time.Time
	logger *zap.Logger
}

// NewEnvelopeSigner creates a signer
func NewEnvelopeSigner(sealer *Sealer, store storage.DocumentStore, logger *zap.Logger) *EnvelopeSigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnvelopeSigner{sealer: sealer, store: store, now: time.Now, logger: logger}
}

var _ verifactu.Signer = (*EnvelopeSigner)(nil)

// Sign implements verifactu.Signer. All failures carry the SIGNING code.
func (s *EnvelopeSigner) Sign(ctx context.Context, company *invoicing.Company, inv *invoicing.Invoice, canonical []byte) (verifactu.SignedDocument, error) {
	if company.CertificateRef == "" {
		return verifactu.SignedDocument{}, shared.NewDomainErrorf(shared.CodeSigning, "company %s has no certificate", company.TaxID)
	}
	secret, err := s.sealer.Open(company.CertificateRef, company.TaxID)
	if err != nil {
		return verifactu.SignedDocument{}, shared.NewDomainErrorf(shared.CodeSigning, "company %s certificate: %v", company.TaxID, err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)

	env := Envelope{
		InvoiceID:    inv.ID.String(),
		CompanyTaxID: company.TaxID,
		Number:       inv.Number,
		HashBefore:   inv.HashBefore,
		Hash:         inv.Hash,
		Canonical:    base64.StdEncoding.EncodeToString(canonical),
		Algorithm:    "HMAC-SHA256",
		Signature:    base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		SignedAt:     s.now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return verifactu.SignedDocument{}, shared.NewDomainErrorf(shared.CodeSigning, "encode envelope: %v", err)
	}
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])

	ref := fmt.Sprintf("%s/%s/%s.json", company.TaxID, inv.ID, digest[:16])
	if err := s.store.Put(ctx, ref, body, "application/json"); err != nil {
		return verifactu.SignedDocument{}, shared.NewDomainErrorf(shared.CodeSigning, "store signed document: %v", err)
	}
	s.logger.Debug("Invoice signed", zap.String("invoice_id", inv.ID.String()), zap.String("ref", ref))
	return verifactu.SignedDocument{Ref: ref, Digest: digest, Body: body}, nil
}

// VerifyEnvelope checks an envelope against the company certificate
func (s *EnvelopeSigner) VerifyEnvelope(company *invoicing.Company, body []byte) (bool, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false, err
	}
	secret, err := s.sealer.Open(company.CertificateRef, company.TaxID)
	if err != nil {
		return false, err
	}
	canonical, err := base64.StdEncoding.DecodeString(env.Canonical)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return false, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return hmac.Equal(sig, mac.Sum(nil)), nil
}
