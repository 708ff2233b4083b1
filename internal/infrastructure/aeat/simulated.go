// Package aeat contains the transports that dispatch signed invoices to the
// tax authority, plus a simulated transport for development and rollout.
package aeat

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/invoicing"
	"go.uber.org/zap"
)

// Simulated rejection codes
const (
	CodeInvalidTaxID = "CIF_INVALIDO"
	CodeMalformed    = "XML_MALFORMADO"
)

// QRBaseURL is the validation page encoded in simulated QR payloads
const QRBaseURL = "https://prewww2.aeat.es/wlpl/TIKE-CONT/ValidarQR"

// Profile is the outcome distribution of the simulated transport, in
// percent. Whatever is left after the three rates is accepted.
type Profile struct {
	RejectTaxIDPercent  int
	RejectFormatPercent int
	TimeoutPercent      int
}

// AlwaysAccept accepts every invoice
var AlwaysAccept = Profile{}

// RealisticProfile mirrors what the authority's test environment returns
var RealisticProfile = Profile{RejectTaxIDPercent: 10, RejectFormatPercent: 10, TimeoutPercent: 10}

// SimulatedTransmitter answers immediately with an outcome instead of
// calling the authority. The timeout branch blocks until ctx is done.
type SimulatedTransmitter struct {
	profile Profile
	delay   time.Duration
	logger  *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// SimulatedOption configures a SimulatedTransmitter
type SimulatedOption func(*SimulatedTransmitter)

// WithProfile sets the outcome distribution
func WithProfile(p Profile) SimulatedOption {
	return func(s *SimulatedTransmitter) { s.profile = p }
}

// WithSeed makes the outcome sequence reproducible
func WithSeed(seed uint64) SimulatedOption {
	return func(s *SimulatedTransmitter) { s.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithDelay adds latency before every answer
func WithDelay(d time.Duration) SimulatedOption {
	return func(s *SimulatedTransmitter) { s.delay = d }
}

// WithSimulatedLogger sets the logger
func WithSimulatedLogger(l *zap.Logger) SimulatedOption {
	return func(s *SimulatedTransmitter) { s.logger = l }
}

// NewSimulatedTransmitter creates a simulated transport
func NewSimulatedTransmitter(opts ...SimulatedOption) *SimulatedTransmitter {
	s := &SimulatedTransmitter{
		logger: zap.NewNop(),
		rnd:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ verifactu.Transmitter = (*SimulatedTransmitter)(nil)

type simulatedResponse struct {
	Estado        string `json:"estado"`
	TxID          string `json:"txId,omitempty"`
	CSV           string `json:"csv,omitempty"`
	CodigoError   string `json:"codigoError,omitempty"`
	Descripcion   string `json:"descripcionError,omitempty"`
	NumeroFactura string `json:"numeroFactura"`
	FechaHora     string `json:"fechaHora"`
}

func (s *SimulatedTransmitter) roll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(100)
}

// Transmit implements verifactu.Transmitter
func (s *SimulatedTransmitter) Transmit(ctx context.Context, t verifactu.Transmission) (verifactu.TransmissionReceipt, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return verifactu.TransmissionReceipt{}, ctx.Err()
		}
	}

	p := s.profile
	roll := s.roll()
	resp := simulatedResponse{
		NumeroFactura: t.Number,
		FechaHora:     s.now().UTC().Format(time.RFC3339),
	}
	var outcome invoicing.Outcome

	switch {
	case roll < p.RejectTaxIDPercent:
		resp.Estado = "RECHAZADO"
		resp.CodigoError = CodeInvalidTaxID
		resp.Descripcion = "tax id is not registered with the authority"
		outcome = invoicing.Outcome{ErrorCode: CodeInvalidTaxID, Message: resp.Descripcion}
	case roll < p.RejectTaxIDPercent+p.RejectFormatPercent:
		resp.Estado = "RECHAZADO"
		resp.CodigoError = CodeMalformed
		resp.Descripcion = "record does not match the expected schema"
		outcome = invoicing.Outcome{ErrorCode: CodeMalformed, Message: resp.Descripcion}
	case roll < p.RejectTaxIDPercent+p.RejectFormatPercent+p.TimeoutPercent:
		s.logger.Warn("Simulated transmission hangs", zap.String("invoice_id", t.InvoiceID.String()))
		<-ctx.Done()
		return verifactu.TransmissionReceipt{}, ctx.Err()
	default:
		resp.Estado = "ACEPTADO"
		resp.TxID = "MOCK-" + strings.ToUpper(uuid.NewString()[:8])
		resp.CSV = "CSV-MOCK-" + uuid.NewString()[:12]
		outcome = invoicing.Outcome{
			Accepted:  true,
			AckCode:   resp.TxID,
			QRPayload: QRPayload(t.CompanyTaxID, t.Number, t.Hash),
		}
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return verifactu.TransmissionReceipt{}, err
	}
	s.logger.Info("Simulated transmission",
		zap.String("invoice_id", t.InvoiceID.String()),
		zap.String("estado", resp.Estado),
	)
	return verifactu.TransmissionReceipt{Raw: string(raw), Outcome: &outcome}, nil
}

// QRPayload builds the validation URL printed on an accepted invoice
func QRPayload(taxID, number, hash string) string {
	q := url.Values{}
	q.Set("nif", taxID)
	q.Set("numserie", number)
	if len(hash) >= 8 {
		q.Set("huella", hash[:8])
	}
	return fmt.Sprintf("%s?%s", QRBaseURL, q.Encode())
}
