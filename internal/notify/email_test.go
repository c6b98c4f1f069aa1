package notify

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "bookings@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "bookings@example.com",
		FromName:  "",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Atlas Visa Advisers" {
		t.Errorf("expected default from name, got %q", sender.fromName)
	}
}

func TestSendGridBuildMail(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "bookings@atlasvisa.example",
		FromName:  "Atlas Visa Advisers",
	}, nil)

	m := sender.buildMail(EmailMessage{
		To:      "amira@example.com",
		ToName:  "Amira Hassan",
		Subject: "Consultation confirmed",
		Body:    "See you soon.",
		HTML:    "<p>See you soon.</p>",
	})

	if m.From.Address != "bookings@atlasvisa.example" || m.From.Name != "Atlas Visa Advisers" {
		t.Errorf("unexpected from: %+v", m.From)
	}
	if m.Subject != "Consultation confirmed" {
		t.Errorf("unexpected subject %q", m.Subject)
	}
	if len(m.Personalizations) != 1 || len(m.Personalizations[0].To) != 1 {
		t.Fatalf("expected a single recipient, got %+v", m.Personalizations)
	}
	to := m.Personalizations[0].To[0]
	if to.Address != "amira@example.com" || to.Name != "Amira Hassan" {
		t.Errorf("unexpected recipient: %+v", to)
	}
	if len(m.Content) != 2 {
		t.Fatalf("expected two content parts, got %d", len(m.Content))
	}
	if m.Content[0].Type != "text/plain" || m.Content[1].Type != "text/html" {
		t.Errorf("content parts out of order: %q then %q", m.Content[0].Type, m.Content[1].Type)
	}
	if m.MailSettings != nil {
		t.Error("expected no mail settings when sandbox is off")
	}
}

func TestSendGridBuildMail_PlainOnly(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "bookings@example.com"}, nil)

	m := sender.buildMail(EmailMessage{To: "amira@example.com", Subject: "Reminder", Body: "Tomorrow at 10:00."})

	if len(m.Content) != 1 || m.Content[0].Type != "text/plain" {
		t.Errorf("expected a single text/plain part, got %+v", m.Content)
	}
}

func TestSendGridBuildMail_Sandbox(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "bookings@example.com",
		Sandbox:   true,
	}, nil)

	m := sender.buildMail(EmailMessage{To: "amira@example.com", Subject: "Test", Body: "Test"})

	if m.MailSettings == nil || m.MailSettings.SandboxMode == nil {
		t.Fatal("expected sandbox mail settings")
	}
	if m.MailSettings.SandboxMode.Enable == nil || !*m.MailSettings.SandboxMode.Enable {
		t.Error("expected sandbox mode enabled")
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{
		client: nil,
	}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "client@example.com",
		Subject: "Test",
		Body:    "Test body",
	})

	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if sender := NewSESSender(nil, SESConfig{FromEmail: "bookings@example.com"}, nil); sender != nil {
		t.Error("expected nil sender without a client")
	}
}

func TestNewSESSender_FromHeader(t *testing.T) {
	client := sesv2.New(sesv2.Options{})

	tests := []struct {
		name     string
		fromName string
		want     string
	}{
		{"default name", "", "Atlas Visa Advisers <bookings@atlasvisa.example>"},
		{"comma needs quoting", "Advisers, Atlas", `"Advisers, Atlas" <bookings@atlasvisa.example>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewSESSender(client, SESConfig{
				FromEmail: "bookings@atlasvisa.example",
				FromName:  tt.fromName,
			}, nil)
			if sender == nil {
				t.Fatal("expected non-nil sender")
			}
			if sender.from != tt.want {
				t.Errorf("from header = %q, want %q", sender.from, tt.want)
			}
		})
	}
}

func TestSESContent(t *testing.T) {
	content := sesContent(EmailMessage{
		Subject: "Consultation cancelled",
		Body:    "Your consultation was cancelled.",
		HTML:    "<p>Your consultation was cancelled.</p>",
	})

	if got := *content.Simple.Subject.Data; got != "Consultation cancelled" {
		t.Errorf("subject = %q", got)
	}
	if content.Simple.Body.Text == nil || *content.Simple.Body.Text.Data != "Your consultation was cancelled." {
		t.Errorf("unexpected text part: %+v", content.Simple.Body.Text)
	}
	if content.Simple.Body.Html == nil {
		t.Error("expected html part")
	}

	htmlOnly := sesContent(EmailMessage{Subject: "S", HTML: "<p>hi</p>"})
	if htmlOnly.Simple.Body.Text != nil {
		t.Error("expected no text part when body is empty")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "client@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})

	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}
