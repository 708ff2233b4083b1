// Package notify delivers invoice outcome notifications.
package notify

import (
	"context"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// LogNotifier records every resolved invoice in the structured log. It is
// the delivery used until an outbound channel (email, client webhook) exists.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(l *zap.Logger) *LogNotifier {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogNotifier{logger: l}
}

var _ verifactu.Notifier = (*LogNotifier)(nil)

// InvoiceResolved implements verifactu.Notifier
func (n *LogNotifier) InvoiceResolved(ctx context.Context, inv *invoicing.Invoice) error {
	fields := []zap.Field{
		logger.InvoiceID(inv.ID),
		logger.CompanyID(inv.CompanyID),
		logger.Status(string(inv.Status)),
		zap.String("number", inv.Number),
	}
	if inv.Status == invoicing.StatusAccepted {
		fields = append(fields, zap.String("ack_code", inv.AckCode))
	} else {
		fields = append(fields, zap.String("error_code", inv.LastErrorCode), zap.String("error", inv.LastError))
	}
	logger.Enrich(ctx, n.logger).Info("Invoice resolved", fields...)
	return nil
}

// Multi fans a notification out to several notifiers and returns the first error
type Multi []verifactu.Notifier

// InvoiceResolved implements verifactu.Notifier
func (m Multi) InvoiceResolved(ctx context.Context, inv *invoicing.Invoice) error {
	var first error
	for _, n := range m {
		if err := n.InvoiceResolved(ctx, inv); err != nil && first == nil {
			first = err
		}
	}
	return first
}
