// Package delivery composes the document renderer and the message transport
// into the invoice sender the lifecycle engine gates draft→sent on.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/internal/mailer"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/pdf"
)

// EmailSender renders the invoice to PDF and emails it to the client.
// Implements billing.InvoiceSender.
type EmailSender struct {
	renderer pdf.Renderer
	mailer   mailer.Mailer
	log      *zap.Logger
}

func NewEmailSender(renderer pdf.Renderer, m mailer.Mailer, log *zap.Logger) *EmailSender {
	return &EmailSender{renderer: renderer, mailer: m, log: log}
}

func (s *EmailSender) Send(ctx context.Context, inv *models.Invoice) error {
	if inv.Client == nil || inv.Client.Email == "" {
		return errors.New("invoice has no client email address")
	}

	data, err := s.renderer.Render(inv)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	from := inv.User.CompanyName
	if from == "" {
		from = "InvoiceFlow"
	}
	subject := fmt.Sprintf("Invoice %s from %s", inv.Number, from)
	body := fmt.Sprintf(
		"<h1 style='margin:0;font-size:22px;'>Invoice %s</h1>"+
			"<p>Hello %s,</p>"+
			"<p>Please find invoice <strong>%s</strong> attached. "+
			"Amount due: <strong>%.2f</strong>, due by %s.</p>",
		inv.Number, inv.Client.Name, inv.Number,
		inv.TotalAmount, inv.DueDate.Format("2006-01-02"))

	att := &mailer.Attachment{
		Filename:    pdf.Filename(inv),
		ContentType: "application/pdf",
		Data:        data,
	}

	s.log.Debug("delivering invoice",
		zap.String("number", inv.Number),
		zap.String("to", inv.Client.Email))
	return s.mailer.Deliver(ctx, inv.Client.Email, subject, body, att)
}
