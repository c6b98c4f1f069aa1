package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// Service renders and sends client-facing booking emails.
type Service struct {
	email    EmailSender
	firmName string
	logger   *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, firmName string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if firmName == "" {
		firmName = "Atlas Visa Advisers"
	}
	return &Service{
		email:    email,
		firmName: firmName,
		logger:   logger.Component("notify"),
	}
}

// Dispatch routes a notification job to its template and sends the email.
func (s *Service) Dispatch(ctx context.Context, job events.NotificationJob) error {
	if s.email == nil {
		s.logger.Debug("email sender not configured, dropping notification", "kind", job.Kind)
		return nil
	}

	var msg EmailMessage
	switch job.Kind {
	case events.KindBookingConfirmed:
		msg = s.bookingConfirmed(job)
	case events.KindBookingCancelled:
		msg = s.bookingCancelled(job)
	case events.KindBookingRescheduled:
		msg = s.bookingRescheduled(job)
	case events.KindPaymentRefunded:
		msg = s.paymentRefunded(job)
	case events.KindDepositReceived:
		msg = s.depositReceived(job)
	default:
		return fmt.Errorf("notify: unknown notification kind %q", job.Kind)
	}

	msg.To = job.Email
	msg.ToName = job.Name
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s: %w", job.Kind, err)
	}
	return nil
}

// SendReminder emails a next-day consultation reminder.
func (s *Service) SendReminder(ctx context.Context, email, name string, slotStart time.Time, method string) error {
	if s.email == nil {
		return nil
	}
	body := fmt.Sprintf(`Hello %s,

This is a reminder of your immigration consultation %s on %s.

If you need to cancel or move the appointment, please use the link in your
confirmation email or contact our office.

— %s`, displayName(name), methodPhrase(method), formatSlot(slotStart), s.firmName)

	msg := EmailMessage{
		To:      email,
		ToName:  name,
		Subject: fmt.Sprintf("Reminder: consultation on %s", slotStart.UTC().Format("Monday, 2 January")),
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send reminder: %w", err)
	}
	return nil
}

func (s *Service) bookingConfirmed(job events.NotificationJob) EmailMessage {
	slot := formatSlotPtr(job.SlotStart)
	amount := formatAmount(job.AmountCents, job.Currency)

	body := fmt.Sprintf(`Hello %s,

Your immigration consultation is confirmed.

When: %s
How: %s
Amount paid: %s
Booking reference: %s
%s
We look forward to speaking with you.

— %s`, displayName(job.Name), slot, methodPhrase(job.Method), amount, job.ConsultationID, invoiceLine(job.InvoiceURL), s.firmName)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #1d4ed8;">Consultation confirmed</h2>
<p>Hello %s, your consultation is booked.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>When:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>How:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Paid:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Reference:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
</table>
%s<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">— %s</p>
</div>`, displayName(job.Name), slot, methodPhrase(job.Method), amount, job.ConsultationID, invoiceHTML(job.InvoiceURL), s.firmName)

	return EmailMessage{
		Subject: "Your consultation is confirmed",
		Body:    body,
		HTML:    html,
	}
}

func (s *Service) bookingCancelled(job events.NotificationJob) EmailMessage {
	refundNote := "As the appointment was less than 24 hours away, the fee is not refundable."
	if job.Reason == "refunded" {
		refundNote = fmt.Sprintf("Your payment of %s will be refunded to the original payment method.", formatAmount(job.AmountCents, job.Currency))
	}
	body := fmt.Sprintf(`Hello %s,

Your consultation on %s has been cancelled.

%s

You can book a new appointment at any time.

— %s`, displayName(job.Name), formatSlotPtr(job.SlotStart), refundNote, s.firmName)

	return EmailMessage{
		Subject: "Your consultation has been cancelled",
		Body:    body,
	}
}

func (s *Service) bookingRescheduled(job events.NotificationJob) EmailMessage {
	body := fmt.Sprintf(`Hello %s,

Your consultation has been moved to %s (%s).
New booking reference: %s

— %s`, displayName(job.Name), formatSlotPtr(job.SlotStart), methodPhrase(job.Method), job.ConsultationID, s.firmName)

	return EmailMessage{
		Subject: "Your consultation has been rescheduled",
		Body:    body,
	}
}

func (s *Service) paymentRefunded(job events.NotificationJob) EmailMessage {
	body := fmt.Sprintf(`Hello %s,

We have refunded %s for payment %s. Depending on your bank it can take a few
business days to appear on your statement.

— %s`, displayName(job.Name), formatAmount(job.AmountCents, job.Currency), job.PaymentID, s.firmName)

	return EmailMessage{
		Subject: "Your refund is on its way",
		Body:    body,
	}
}

func (s *Service) depositReceived(job events.NotificationJob) EmailMessage {
	body := fmt.Sprintf(`Hello %s,

We received your case deposit of %s. Your application (%s) is now in progress
and your adviser will be in touch with next steps.

— %s`, displayName(job.Name), formatAmount(job.AmountCents, job.Currency), job.ApplicationID, s.firmName)

	return EmailMessage{
		Subject: "Deposit received, your application is underway",
		Body:    body,
	}
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "there"
	}
	return name
}

func methodPhrase(method string) string {
	switch method {
	case "phone":
		return "by phone"
	case "video":
		return "by video call"
	case "office":
		return "at our office"
	default:
		return method
	}
}

func formatSlot(t time.Time) string {
	return t.UTC().Format("Monday, 2 January 2006 at 15:04 MST")
}

func formatSlotPtr(t *time.Time) string {
	if t == nil {
		return "the scheduled time"
	}
	return formatSlot(*t)
}

func formatAmount(cents int, currency string) string {
	symbol := "€"
	switch strings.ToLower(currency) {
	case "usd":
		symbol = "$"
	case "gbp":
		symbol = "£"
	}
	return fmt.Sprintf("%s%.2f", symbol, float64(cents)/100)
}

func invoiceLine(url string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf("Your invoice: %s\n", url)
}

func invoiceHTML(url string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf(`<p><a href="%s">Download your invoice</a></p>
`, url)
}
