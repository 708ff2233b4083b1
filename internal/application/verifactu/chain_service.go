package verifactu

import (
	"context"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/domain/verifactu"
	"go.uber.org/zap"
)

// ChainReport is the result of auditing one company's chain
type ChainReport struct {
	CompanyID     uuid.UUID  `json:"companyId"`
	Length        int        `json:"length"`
	Tip           string     `json:"tip"`
	Valid         bool       `json:"valid"`
	BrokenAt      *uuid.UUID `json:"brokenAt,omitempty"`
	BrokenAtIndex int        `json:"brokenAtIndex"`
	Problem       string     `json:"problem,omitempty"`
}

// ChainService audits stored chains
type ChainService struct {
	invoices  invoicing.InvoiceRepository
	companies invoicing.CompanyRepository
	clients   invoicing.ClientRepository
	logger    *zap.Logger
}

// NewChainService creates a ChainService
func NewChainService(invoices invoicing.InvoiceRepository, companies invoicing.CompanyRepository, clients invoicing.ClientRepository, logger *zap.Logger) *ChainService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainService{invoices: invoices, companies: companies, clients: clients, logger: logger}
}

// VerifyCompany recomputes every link from the stored invoices and checks
// continuity and that the company tip is the last link.
func (s *ChainService) VerifyCompany(ctx context.Context, companyID uuid.UUID) (*ChainReport, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	chain, err := s.invoices.FindChain(ctx, companyID)
	if err != nil {
		return nil, err
	}

	issuer := company.Snapshot()
	recipients := make(map[uuid.UUID]invoicing.Party)
	entries := make([]verifactu.ChainEntry, 0, len(chain))
	for _, inv := range chain {
		recipient, ok := recipients[inv.ClientID]
		if !ok {
			client, err := s.clients.FindByID(ctx, inv.ClientID)
			if err != nil {
				return nil, err
			}
			recipient = client.Snapshot()
			recipients[inv.ClientID] = recipient
		}
		canonical, err := verifactu.Canonicalize(inv, issuer, recipient)
		if err != nil {
			return nil, err
		}
		entries = append(entries, verifactu.ChainEntry{
			InvoiceID:  inv.ID,
			Sequence:   inv.ChainSequence,
			HashBefore: inv.HashBefore,
			Hash:       inv.Hash,
			Recomputed: verifactu.HashCanonical(canonical),
		})
	}

	report := &ChainReport{
		CompanyID:     companyID,
		Length:        len(entries),
		Tip:           company.LastHash,
		Valid:         true,
		BrokenAtIndex: -1,
	}
	if idx, err := verifactu.VerifyChain(entries); err != nil {
		id := entries[idx].InvoiceID
		report.Valid = false
		report.BrokenAt = &id
		report.BrokenAtIndex = idx
		report.Problem = err.Error()
	} else if last := lastHash(entries); last != company.LastHash || int64(len(entries)) != company.ChainLength {
		report.Valid = false
		report.Problem = shared.NewDomainErrorf(shared.CodeChainIntegrity,
			"company tip %q (length %d) does not match last link %q (length %d)",
			company.LastHash, company.ChainLength, last, len(entries)).Error()
	}
	if !report.Valid {
		s.logger.Warn("Chain verification failed",
			zap.String("company_id", companyID.String()),
			zap.String("problem", report.Problem),
		)
	}
	return report, nil
}

func lastHash(entries []verifactu.ChainEntry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].Hash
}
