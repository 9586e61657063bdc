// Package pdf renders invoices to PDF documents.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/diewo77/invoiceflow/internal/models"
)

// Renderer turns an invoice into a byte stream. The engine only ever needs
// the resulting bytes and a filename.
type Renderer interface {
	Render(inv *models.Invoice) ([]byte, error)
}

// Filename returns the download/attachment name for an invoice document.
func Filename(inv *models.Invoice) string {
	return inv.Number + ".pdf"
}

// InvoiceRenderer renders a single-page A4 invoice.
type InvoiceRenderer struct{}

func NewInvoiceRenderer() *InvoiceRenderer { return &InvoiceRenderer{} }

func (r *InvoiceRenderer) Render(inv *models.Invoice) ([]byte, error) {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetTitle(fmt.Sprintf("Invoice %s", inv.Number), false)
	doc.AddPage()

	// Header
	doc.SetFont("Helvetica", "B", 22)
	doc.Cell(100, 12, "INVOICE")
	doc.SetFont("Helvetica", "", 11)
	doc.CellFormat(0, 12, inv.Number, "", 1, "R", false, 0, "")

	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(100, 6, "", "", 0, "L", false, 0, "")
	doc.CellFormat(0, 6, "Date: "+inv.Date.Format("2006-01-02"), "", 1, "R", false, 0, "")
	doc.CellFormat(100, 6, "", "", 0, "L", false, 0, "")
	doc.CellFormat(0, 6, "Due: "+inv.DueDate.Format("2006-01-02"), "", 1, "R", false, 0, "")
	doc.CellFormat(100, 6, "", "", 0, "L", false, 0, "")
	doc.SetFont("Helvetica", "B", 10)
	doc.CellFormat(0, 6, "Status: "+string(inv.Status), "", 1, "R", false, 0, "")
	doc.Ln(6)

	// Billed-to block
	if inv.Client != nil {
		doc.SetFont("Helvetica", "B", 11)
		doc.CellFormat(0, 6, "Bill To", "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.CellFormat(0, 5, inv.Client.Name, "", 1, "L", false, 0, "")
		if inv.Client.Address != "" {
			doc.MultiCell(0, 5, inv.Client.Address, "", "L", false)
		}
		doc.CellFormat(0, 5, inv.Client.Email, "", 1, "L", false, 0, "")
		doc.Ln(6)
	}

	// Items table
	doc.SetFont("Helvetica", "B", 10)
	doc.SetFillColor(74, 111, 165)
	doc.SetTextColor(255, 255, 255)
	doc.CellFormat(90, 8, "Description", "1", 0, "L", true, 0, "")
	doc.CellFormat(25, 8, "Qty", "1", 0, "R", true, 0, "")
	doc.CellFormat(35, 8, "Unit Price", "1", 0, "R", true, 0, "")
	doc.CellFormat(40, 8, "Amount", "1", 1, "R", true, 0, "")

	doc.SetFont("Helvetica", "", 10)
	doc.SetTextColor(0, 0, 0)
	for _, item := range inv.Items {
		doc.CellFormat(90, 7, item.Description, "1", 0, "L", false, 0, "")
		doc.CellFormat(25, 7, fmt.Sprintf("%g", item.Quantity), "1", 0, "R", false, 0, "")
		doc.CellFormat(35, 7, fmt.Sprintf("%.2f", item.UnitPrice), "1", 0, "R", false, 0, "")
		doc.CellFormat(40, 7, fmt.Sprintf("%.2f", item.Amount), "1", 1, "R", false, 0, "")
	}

	// Totals: rounding happens here and only here, never in storage.
	doc.Ln(3)
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(150, 6, "Subtotal", "", 0, "R", false, 0, "")
	doc.CellFormat(40, 6, fmt.Sprintf("%.2f", inv.Subtotal), "", 1, "R", false, 0, "")
	doc.CellFormat(150, 6, fmt.Sprintf("Tax (%g%%)", inv.TaxRate), "", 0, "R", false, 0, "")
	doc.CellFormat(40, 6, fmt.Sprintf("%.2f", inv.TaxAmount), "", 1, "R", false, 0, "")
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(150, 8, "Total", "", 0, "R", false, 0, "")
	doc.CellFormat(40, 8, fmt.Sprintf("%.2f", inv.TotalAmount), "", 1, "R", false, 0, "")

	if inv.Notes != "" {
		doc.Ln(6)
		doc.SetFont("Helvetica", "B", 10)
		doc.CellFormat(0, 6, "Notes", "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 9)
		doc.MultiCell(0, 5, inv.Notes, "", "L", false)
	}
	if inv.Terms != "" {
		doc.Ln(3)
		doc.SetFont("Helvetica", "B", 10)
		doc.CellFormat(0, 6, "Terms", "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 9)
		doc.MultiCell(0, 5, inv.Terms, "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}
