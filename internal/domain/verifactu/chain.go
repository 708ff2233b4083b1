package verifactu

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
)

// Link is one position in a company's hash chain
type Link struct {
	HashBefore string
	Hash       string
	Sequence   int64
}

// HashCanonical returns the lowercase hex SHA-256 of canonical bytes
func HashCanonical(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// ComputeLink builds the next link for inv on top of the company tip.
// The canonical form embeds lastHash, so the link commits to its predecessor.
func ComputeLink(inv *invoicing.Invoice, company *invoicing.Company, recipient invoicing.Party) (Link, error) {
	canonical, err := canonicalizeWith(inv, company.Snapshot(), recipient, company.LastHash)
	if err != nil {
		return Link{}, err
	}
	return Link{
		HashBefore: company.LastHash,
		Hash:       HashCanonical(canonical),
		Sequence:   company.ChainLength + 1,
	}, nil
}

// ChainEntry is a stored link plus the hash recomputed from the invoice
type ChainEntry struct {
	InvoiceID  uuid.UUID
	Sequence   int64
	HashBefore string
	Hash       string
	Recomputed string
}

// VerifyChain checks that entries form one unbroken chain starting from an
// empty predecessor, with no duplicate hashes and no tampered links.
// It returns the index of the first bad entry, or -1.
func VerifyChain(entries []ChainEntry) (int, error) {
	seen := make(map[string]struct{}, len(entries))
	prev := ""
	for i, e := range entries {
		if e.HashBefore != prev {
			return i, shared.NewDomainErrorf(shared.CodeChainIntegrity,
				"link %d (invoice %s) points to %q, expected %q", e.Sequence, e.InvoiceID, e.HashBefore, prev)
		}
		if e.Sequence != int64(i+1) {
			return i, shared.NewDomainErrorf(shared.CodeChainIntegrity,
				"link for invoice %s has sequence %d, expected %d", e.InvoiceID, e.Sequence, i+1)
		}
		if _, dup := seen[e.Hash]; dup {
			return i, shared.NewDomainErrorf(shared.CodeChainIntegrity, "duplicate hash at link %d", e.Sequence)
		}
		if e.Recomputed != "" && e.Recomputed != e.Hash {
			return i, shared.NewDomainErrorf(shared.CodeChainIntegrity,
				"link %d (invoice %s) does not match its content", e.Sequence, e.InvoiceID)
		}
		seen[e.Hash] = struct{}{}
		prev = e.Hash
	}
	return -1, nil
}
