package invoicing

// Status is the lifecycle state of an invoice inside the compliance pipeline
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSending    Status = "SENDING"
	StatusSent       Status = "SENT"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusFailed     Status = "FAILED"
	StatusTimeout    Status = "TIMEOUT"
)

// transitions lists every allowed move. SENDING and TIMEOUT accept an
// outcome as well as SENT because the authority may call back before the
// transmission result is recorded, or after the sweep gave up waiting.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusPending},
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSending, StatusFailed, StatusTimeout},
	StatusSending:    {StatusSent, StatusFailed, StatusTimeout, StatusAccepted, StatusRejected},
	StatusSent:       {StatusAccepted, StatusRejected, StatusTimeout},
	StatusFailed:     {StatusPending},
	StatusTimeout:    {StatusPending, StatusAccepted, StatusRejected},
}

// AllStatuses returns every status in lifecycle order
func AllStatuses() []Status {
	return []Status{
		StatusDraft, StatusPending, StatusProcessing, StatusSending, StatusSent,
		StatusAccepted, StatusRejected, StatusFailed, StatusTimeout,
	}
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok || s == StatusAccepted || s == StatusRejected
}

// IsTerminal reports whether the authority has decided on the invoice
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// IsRetryable reports whether the invoice may re-enter the pipeline
func (s Status) IsRetryable() bool {
	return s == StatusFailed || s == StatusTimeout
}

// IsInFlight reports whether the pipeline is still working on the invoice
func (s Status) IsInFlight() bool {
	return s == StatusProcessing || s == StatusSending || s == StatusSent
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AwaitsOutcome reports whether an authority callback can resolve the invoice
func (s Status) AwaitsOutcome() bool {
	return s.CanTransitionTo(StatusAccepted)
}

func (s Status) String() string {
	return string(s)
}
