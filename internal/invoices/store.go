package invoices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store writes rendered invoices to S3 and hands back their public URL.
type Store struct {
	bucket   string
	region   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an invoice Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket, region string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, region: region, s3Client: s3Client, logger: logger.Component("invoices")}
}

// Enabled returns true if invoice storage is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Generate renders the invoice, uploads it, and returns the object URL.
// Returns an empty URL without error when storage is not configured, because
// invoice delivery must never block a payment confirmation.
func (s *Store) Generate(ctx context.Context, inv Invoice) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC()
	}
	if inv.Number == "" {
		inv.Number = NumberFor(inv.PaymentID, inv.IssuedAt)
	}
	if inv.FirmName == "" {
		inv.FirmName = "Atlas Visa Advisers"
	}

	html, err := Render(inv)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("invoices/v1/%d/%02d/%s.html", inv.IssuedAt.Year(), inv.IssuedAt.Month(), inv.PaymentID)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(html),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("invoices: s3 put %s: %w", key, err)
	}

	url := s.objectURL(key)
	s.logger.Info("invoice stored", "payment_id", inv.PaymentID, "invoice_number", inv.Number, "s3_key", key)
	return url, nil
}

func (s *Store) objectURL(key string) string {
	if s.region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
