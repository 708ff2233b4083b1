package invoicing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Invoice is the aggregate tracked through the compliance pipeline.
// Hash and HashBefore are written once, when the invoice is chained.
type Invoice struct {
	shared.BaseAggregateRoot

	CompanyID       uuid.UUID
	ClientID        uuid.UUID
	Series          string
	Number          string
	IssueDate       time.Time
	Notes           string
	WithholdingRate decimal.Decimal
	SurchargeRate   decimal.Decimal
	Items           []Item
	Totals          *Totals

	Status          Status
	StatusChangedAt time.Time

	HashBefore    string
	Hash          string
	ChainSequence int64

	SignedDocumentRef string
	AckCode           string
	QRPayload         string
	RawTransmission   string

	RetryCount    int
	LastErrorCode string
	LastError     string
	DeadLettered  bool

	SubmittedAt *time.Time
	ResolvedAt  *time.Time
}

// Outcome is the authority's decision on a transmitted invoice
type Outcome struct {
	Accepted  bool
	AckCode   string
	QRPayload string
	ErrorCode string
	Message   string
}

// NewInvoice creates a DRAFT invoice and computes its totals
func NewInvoice(companyID, clientID uuid.UUID, number string, issueDate time.Time, items []Item, withholdingRate, surchargeRate decimal.Decimal) *Invoice {
	inv := &Invoice{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		CompanyID:         companyID,
		ClientID:          clientID,
		Number:            number,
		IssueDate:         issueDate,
		WithholdingRate:   withholdingRate,
		SurchargeRate:     surchargeRate,
		Items:             items,
		Status:            StatusDraft,
	}
	inv.StatusChangedAt = inv.CreatedAt
	inv.Recalculate()
	return inv
}

// Recalculate recomputes totals from the current lines
func (inv *Invoice) Recalculate() {
	totals := CalculateTotals(inv.Items, inv.WithholdingRate, inv.SurchargeRate)
	inv.Totals = &totals
}

// IsChained reports whether the invoice already occupies a chain slot
func (inv *Invoice) IsChained() bool {
	return inv.Hash != ""
}

// Validate checks the fields required before the invoice may be processed
func (inv *Invoice) Validate() error {
	var missing []string
	if strings.TrimSpace(inv.Number) == "" {
		missing = append(missing, "invoice number")
	}
	if inv.Totals == nil {
		missing = append(missing, "total")
	}
	if inv.CompanyID == uuid.Nil {
		missing = append(missing, "company")
	}
	if inv.ClientID == uuid.Nil {
		missing = append(missing, "client")
	}
	if len(inv.Items) == 0 {
		missing = append(missing, "at least one line item")
	}
	if len(missing) > 0 {
		return shared.NewDomainErrorf(shared.CodeValidation, "invoice %s is missing %s", inv.ID, strings.Join(missing, ", "))
	}
	return nil
}

// MarkPending hands a draft over to the pipeline
func (inv *Invoice) MarkPending(now time.Time) error {
	if inv.Status != StatusDraft {
		return inv.invalidTransition(StatusPending)
	}
	return inv.transition(StatusPending, now)
}

// BeginProcessing passes the validation gate. On failure the invoice is left untouched.
func (inv *Invoice) BeginProcessing(now time.Time) error {
	if inv.Status != StatusPending {
		return inv.invalidTransition(StatusProcessing)
	}
	if err := inv.Validate(); err != nil {
		return err
	}
	return inv.transition(StatusProcessing, now)
}

// AttachChain records the invoice's chain link and moves it to SENDING
func (inv *Invoice) AttachChain(hashBefore, hash string, sequence int64, now time.Time) error {
	if inv.IsChained() {
		return shared.NewDomainErrorf(shared.CodeChainIntegrity, "invoice %s is already chained", inv.ID)
	}
	if inv.Status != StatusProcessing {
		return inv.invalidTransition(StatusSending)
	}
	if hash == "" {
		return shared.NewDomainErrorf(shared.CodeChainIntegrity, "empty hash for invoice %s", inv.ID)
	}
	inv.HashBefore = hashBefore
	inv.Hash = hash
	inv.ChainSequence = sequence
	return inv.transition(StatusSending, now)
}

// ResumeSending moves an already chained invoice back to SENDING on retry
// without touching its chain link.
func (inv *Invoice) ResumeSending(now time.Time) error {
	if !inv.IsChained() {
		return shared.NewDomainErrorf(shared.CodeChainIntegrity, "invoice %s has no chain link to resume", inv.ID)
	}
	if inv.Status != StatusProcessing {
		return inv.invalidTransition(StatusSending)
	}
	return inv.transition(StatusSending, now)
}

// AttachSignedDocument stores the signer's document reference
func (inv *Invoice) AttachSignedDocument(ref string) {
	inv.SignedDocumentRef = ref
}

// MarkSent records a dispatched transmission
func (inv *Invoice) MarkSent(rawTransmission string, now time.Time) error {
	if err := inv.transition(StatusSent, now); err != nil {
		return err
	}
	inv.RawTransmission = rawTransmission
	inv.SubmittedAt = &now
	return nil
}

// MarkFailed records an unrecoverable local error
func (inv *Invoice) MarkFailed(code, message string, now time.Time) error {
	if err := inv.transition(StatusFailed, now); err != nil {
		return err
	}
	inv.LastErrorCode = code
	inv.LastError = message
	return nil
}

// MarkTimedOut records that no result arrived in time
func (inv *Invoice) MarkTimedOut(message string, now time.Time) error {
	if err := inv.transition(StatusTimeout, now); err != nil {
		return err
	}
	inv.LastErrorCode = shared.CodeTimeout
	inv.LastError = message
	return nil
}

// Resolve applies the authority's outcome
func (inv *Invoice) Resolve(outcome Outcome, now time.Time) error {
	next := StatusRejected
	if outcome.Accepted {
		next = StatusAccepted
	}
	if !inv.IsChained() {
		return shared.NewDomainErrorf(shared.CodeInvalidState, "invoice %s has no chain link and was never transmitted", inv.ID)
	}
	if err := inv.transition(next, now); err != nil {
		return err
	}
	inv.ResolvedAt = &now
	if inv.SubmittedAt == nil {
		inv.SubmittedAt = &now
	}
	if outcome.AckCode != "" {
		inv.AckCode = outcome.AckCode
	}
	if outcome.QRPayload != "" {
		inv.QRPayload = outcome.QRPayload
	}
	if outcome.Accepted {
		inv.LastErrorCode = ""
		inv.LastError = ""
		return nil
	}
	inv.LastErrorCode = outcome.ErrorCode
	if inv.LastErrorCode == "" {
		inv.LastErrorCode = "REJECTED"
	}
	inv.LastError = outcome.Message
	return nil
}

// Requeue sends a FAILED or TIMEOUT invoice back to PENDING for another attempt
func (inv *Invoice) Requeue(now time.Time) error {
	if !inv.Status.IsRetryable() {
		return inv.invalidTransition(StatusPending)
	}
	if err := inv.transition(StatusPending, now); err != nil {
		return err
	}
	inv.RetryCount++
	inv.DeadLettered = false
	return nil
}

// ResetForManualRetry clears the retry budget before a manual requeue
func (inv *Invoice) ResetForManualRetry() {
	inv.RetryCount = 0
}

// MarkDeadLettered flags an invoice that exhausted its retries
func (inv *Invoice) MarkDeadLettered(now time.Time) {
	inv.DeadLettered = true
	inv.Touch(now)
}

// ProcessingTime is the time between submission and resolution
func (inv *Invoice) ProcessingTime() (time.Duration, bool) {
	if inv.SubmittedAt == nil || inv.ResolvedAt == nil {
		return 0, false
	}
	return inv.ResolvedAt.Sub(*inv.SubmittedAt), true
}

func (inv *Invoice) transition(next Status, now time.Time) error {
	if !inv.Status.CanTransitionTo(next) {
		return inv.invalidTransition(next)
	}
	inv.Status = next
	inv.StatusChangedAt = now
	inv.Touch(now)
	return nil
}

func (inv *Invoice) invalidTransition(next Status) error {
	return shared.NewDomainErrorf(shared.CodeInvalidState, "invoice %s cannot move from %s to %s", inv.ID, inv.Status, next)
}
