// Package invoices renders payment invoices and stores them durably in S3.
package invoices

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Invoice is the renderable record of one completed payment.
type Invoice struct {
	Number      string
	PaymentID   string
	ClientName  string
	ClientEmail string
	Description string
	AmountCents int
	Currency    string
	IssuedAt    time.Time
	FirmName    string
}

// Amount formats the invoice total for display.
func (i Invoice) Amount() string {
	symbol := "€"
	switch strings.ToLower(i.Currency) {
	case "usd":
		symbol = "$"
	case "gbp":
		symbol = "£"
	}
	return fmt.Sprintf("%s%.2f", symbol, float64(i.AmountCents)/100)
}

var invoiceTmpl = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Invoice {{.Number}}</title></head>
<body style="font-family: sans-serif; max-width: 640px; margin: 0 auto;">
  <h1 style="color: #1d4ed8;">{{.FirmName}}</h1>
  <h2>Invoice {{.Number}}</h2>
  <p>Issued {{.IssuedAt.Format "2 January 2006"}}</p>
  <table style="width: 100%; border-collapse: collapse; margin: 24px 0;">
    <tr>
      <th style="text-align: left; padding: 8px; border-bottom: 2px solid #1d4ed8;">Billed to</th>
      <th style="text-align: left; padding: 8px; border-bottom: 2px solid #1d4ed8;">Description</th>
      <th style="text-align: right; padding: 8px; border-bottom: 2px solid #1d4ed8;">Amount</th>
    </tr>
    <tr>
      <td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">{{.ClientName}}<br>{{.ClientEmail}}</td>
      <td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">{{.Description}}</td>
      <td style="padding: 8px; border-bottom: 1px solid #e5e7eb; text-align: right;">{{.Amount}}</td>
    </tr>
    <tr>
      <td></td>
      <td style="padding: 8px; text-align: right;"><strong>Total paid</strong></td>
      <td style="padding: 8px; text-align: right;"><strong>{{.Amount}}</strong></td>
    </tr>
  </table>
  <p style="color: #6b7280; font-size: 12px;">Payment reference {{.PaymentID}}. This invoice was settled in full.</p>
</body>
</html>
`))

// Render produces the HTML document for an invoice.
func Render(inv Invoice) (string, error) {
	if inv.Number == "" {
		return "", fmt.Errorf("invoices: invoice number required")
	}
	var buf bytes.Buffer
	if err := invoiceTmpl.Execute(&buf, inv); err != nil {
		return "", fmt.Errorf("invoices: render %s: %w", inv.Number, err)
	}
	return buf.String(), nil
}

// NumberFor derives a stable invoice number from the payment id, so retried
// invoice generation for the same payment never mints a second number.
func NumberFor(paymentID string, issuedAt time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(paymentID, "-", ""))
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("AV-%d-%s", issuedAt.UTC().Year(), short)
}
