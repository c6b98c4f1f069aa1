// Package main runs E2E tests of the consultation booking flow against a
// running stack (API + LocalStack, ALLOW_FAKE_PAYMENTS=true so checkout and
// refunds are dry-run).
//
// Scenarios:
//   - Happy-path booking: slots → book → checkout → webhook → confirmed
//   - Hold state is visible with its expiry before payment
//   - Second booking of the same slot is rejected
//   - Verify is idempotent: repeated calls return the same invoice
//   - Cancellation outside 24h refunds the completed payment
//   - Rescheduling onto an occupied slot fails and leaves the original alone
//   - Staff day listing requires a token and shows the booking
//
// Usage:
//
//	API_BASE_URL=http://localhost:8080 go run scripts/e2e/run_e2e.go [scenario-name]
//	STAFF_JWT_SECRET=...    enables the staff scenarios
//	PAYMENT_WEBHOOK_SECRET=... signs webhook deliveries (unsigned works when
//	                           the API runs without a webhook secret)
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

const (
	// Public booking routes are rate limited per IP; pace writes so the
	// script never trips the default limiter.
	bookPace = 1100 * time.Millisecond
)

var (
	apiBase       string
	staffSecret   string
	webhookSecret string
	staffJWT      string
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func uniqueEmail(tag string) string {
	return fmt.Sprintf("e2e-%s-%d@atlasvisa.test", tag, time.Now().UnixNano())
}

func futureDate(daysAhead int) string {
	return time.Now().UTC().AddDate(0, 0, daysAhead).Format("2006-01-02")
}

func doJSON(method, path string, payload interface{}, bearer string) (int, map[string]interface{}, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var parsed map[string]interface{}
	_ = json.Unmarshal(raw, &parsed)
	return resp.StatusCode, parsed, nil
}

// freeSlots returns the offered slot times for a date.
func freeSlots(daysAhead int) (date string, clocks []string, err error) {
	date = futureDate(daysAhead)
	status, body, err := doJSON("GET", "/api/slots?date="+date, nil, "")
	if err != nil {
		return "", nil, err
	}
	if status != http.StatusOK {
		return "", nil, fmt.Errorf("slots returned %d", status)
	}
	slots, _ := body["slots"].([]interface{})
	for _, s := range slots {
		m, _ := s.(map[string]interface{})
		if clock, _ := m["time"].(string); clock != "" {
			clocks = append(clocks, clock)
		}
	}
	if len(clocks) == 0 {
		return "", nil, fmt.Errorf("no free slots on %s", date)
	}
	return date, clocks, nil
}

// firstFreeSlot returns the date/time of the first offered slot for a date.
func firstFreeSlot(daysAhead int) (date, clock string, err error) {
	date, clocks, err := freeSlots(daysAhead)
	if err != nil {
		return "", "", err
	}
	return date, clocks[0], nil
}

// book creates a consultation hold and returns the 201 body.
func book(email, name, date, clock string) (int, map[string]interface{}, error) {
	time.Sleep(bookPace)
	return doJSON("POST", "/api/consultations", map[string]string{
		"email":  email,
		"name":   name,
		"date":   date,
		"time":   clock,
		"method": "video",
	}, "")
}

// checkout creates the hosted checkout session for a pending payment.
func checkout(paymentID, email string) (string, error) {
	status, body, err := doJSON("POST", "/api/payments/checkout", map[string]string{
		"paymentId": paymentID,
		"email":     email,
	}, "")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("checkout returned %d: %v", status, body)
	}
	sessionID, _ := body["sessionId"].(string)
	if sessionID == "" {
		return "", fmt.Errorf("checkout response missing sessionId")
	}
	return sessionID, nil
}

// deliverWebhook posts a signed checkout.session.completed event.
func deliverWebhook(sessionID, paymentID string) (int, error) {
	event := map[string]interface{}{
		"id":      fmt.Sprintf("evt_e2e_%d", time.Now().UnixNano()),
		"type":    "checkout.session.completed",
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             sessionID,
				"payment_intent": "pi_e2e_" + sessionID,
				"payment_status": "paid",
				"status":         "complete",
				"metadata":       map[string]string{"payment_id": paymentID},
			},
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest("POST", apiBase+"/webhooks/payments", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if webhookSecret != "" {
		req.Header.Set("Stripe-Signature", signWebhook(payload, webhookSecret))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// signWebhook produces the provider's t=...,v1=... signature header.
func signWebhook(payload []byte, secret string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func getConsultation(id, email string) (int, map[string]interface{}, error) {
	return doJSON("GET", "/api/consultations/"+id+"?email="+email, nil, "")
}

func generateJWT(secret string) string {
	header := base64url(map[string]string{"alg": "HS256", "typ": "JWT"})
	now := time.Now()
	payload := base64url(map[string]interface{}{
		"sub": "staff",
		"iat": now.Unix(),
		"exp": now.Add(12 * time.Hour).Unix(),
	})
	unsigned := header + "." + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unsigned))
	sig := strings.TrimRight(base64.URLEncoding.EncodeToString(mac.Sum(nil)), "=")
	return unsigned + "." + sig
}

func base64url(v interface{}) string {
	b, _ := json.Marshal(v)
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "=")
}

// bookAndPay runs slots → book → checkout → webhook and returns the booking.
func bookAndPay(t *T, tag string, daysAhead int) (id, paymentID, email string, ok bool) {
	email = uniqueEmail(tag)
	date, clock, err := firstFreeSlot(daysAhead)
	if err != nil {
		t.fatalf("slots: %v", err)
		return "", "", "", false
	}
	status, body, err := book(email, "E2E Client", date, clock)
	if err != nil || status != http.StatusCreated {
		t.fatalf("book returned %d (%v): %v", status, err, body)
		return "", "", "", false
	}
	id, _ = body["consultationId"].(string)
	paymentID, _ = body["paymentId"].(string)
	sessionID, err := checkout(paymentID, email)
	if err != nil {
		t.fatalf("checkout: %v", err)
		return "", "", "", false
	}
	whStatus, err := deliverWebhook(sessionID, paymentID)
	if err != nil || whStatus != http.StatusOK {
		t.fatalf("webhook returned %d (%v)", whStatus, err)
		return "", "", "", false
	}
	return id, paymentID, email, true
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenarioBookAndPay(t *T) {
	id, paymentID, email, ok := bookAndPay(t, "happy", 3)
	if !ok {
		return
	}
	t.check("booking ids issued", id != "" && paymentID != "")

	status, body, err := getConsultation(id, email)
	if err != nil || status != http.StatusOK {
		t.fatalf("get consultation returned %d (%v)", status, err)
		return
	}
	t.check("consultation confirmed after webhook", body["status"] == "confirmed")
	t.check("payment linked", body["paymentId"] == paymentID)
}

func scenarioHoldState(t *T) {
	email := uniqueEmail("hold")
	date, clock, err := firstFreeSlot(4)
	if err != nil {
		t.fatalf("slots: %v", err)
		return
	}
	status, body, err := book(email, "E2E Client", date, clock)
	if err != nil || status != http.StatusCreated {
		t.fatalf("book returned %d (%v)", status, err)
		return
	}
	t.check("hold expiry returned on booking", body["holdExpiresAt"] != nil)

	id, _ := body["consultationId"].(string)
	status, view, err := getConsultation(id, email)
	if err != nil || status != http.StatusOK {
		t.fatalf("get consultation returned %d (%v)", status, err)
		return
	}
	t.check("status is hold before payment", view["status"] == "hold")
	t.check("hold expiry visible to owner", view["holdExpiresAt"] != nil)
}

func scenarioSlotConflict(t *T) {
	date, clock, err := firstFreeSlot(5)
	if err != nil {
		t.fatalf("slots: %v", err)
		return
	}
	status, _, err := book(uniqueEmail("conflict-a"), "First Client", date, clock)
	if err != nil || status != http.StatusCreated {
		t.fatalf("first booking returned %d (%v)", status, err)
		return
	}
	status, _, err = book(uniqueEmail("conflict-b"), "Second Client", date, clock)
	if err != nil {
		t.fatalf("second booking: %v", err)
		return
	}
	t.check("second booking of the same slot is 409", status == http.StatusConflict)

	// The day listing runs off a secondary index, so allow it a moment to
	// catch up with the claim.
	offered := true
	deadline := time.Now().Add(10 * time.Second)
	for offered && time.Now().Before(deadline) {
		_, clocks, err := freeSlots(5)
		if err != nil {
			t.fatalf("slots: %v", err)
			return
		}
		offered = false
		for _, c := range clocks {
			if c == clock {
				offered = true
			}
		}
		if offered {
			time.Sleep(time.Second)
		}
	}
	t.check("held slot no longer offered", !offered)
}

func scenarioVerifyIdempotent(t *T) {
	email := uniqueEmail("verify")
	date, clock, err := firstFreeSlot(6)
	if err != nil {
		t.fatalf("slots: %v", err)
		return
	}
	status, body, err := book(email, "E2E Client", date, clock)
	if err != nil || status != http.StatusCreated {
		t.fatalf("book returned %d (%v)", status, err)
		return
	}
	paymentID, _ := body["paymentId"].(string)
	sessionID, err := checkout(paymentID, email)
	if err != nil {
		t.fatalf("checkout: %v", err)
		return
	}

	verify := func() (map[string]interface{}, error) {
		status, body, err := doJSON("POST", "/api/payments/verify", map[string]string{"sessionId": sessionID}, "")
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("verify returned %d: %v", status, body)
		}
		return body, nil
	}

	first, err := verify()
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("verify settles the payment", first["paid"] == true)
	t.check("invoice issued", first["invoiceUrl"] != nil && first["invoiceUrl"] != "")

	second, err := verify()
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("second verify still paid", second["paid"] == true)
	t.check("same invoice on repeat verify", second["invoiceUrl"] == first["invoiceUrl"])
}

func scenarioCancelRefund(t *T) {
	// Slots more than a day out are always outside the 24h cutoff.
	id, _, email, ok := bookAndPay(t, "cancel", 7)
	if !ok {
		return
	}
	status, body, err := doJSON("PATCH", "/api/consultations/"+id+"/cancel", map[string]string{
		"email":  email,
		"reason": "client request",
	}, "")
	if err != nil || status != http.StatusOK {
		t.fatalf("cancel returned %d (%v): %v", status, err, body)
		return
	}
	t.check("cancellation refunds outside 24h", body["refunded"] == true)
	t.check("status cancelled", body["status"] == "cancelled")

	status, view, err := getConsultation(id, email)
	if err != nil || status != http.StatusOK {
		t.fatalf("get consultation returned %d (%v)", status, err)
		return
	}
	t.check("cancellation persisted", view["status"] == "cancelled")
}

func scenarioRescheduleConflict(t *T) {
	// Take two distinct slots from one listing so the index lag between
	// bookings cannot hand both clients the same offer.
	date, clocks, err := freeSlots(8)
	if err != nil {
		t.fatalf("slots: %v", err)
		return
	}
	if len(clocks) < 2 {
		t.fatalf("need two free slots on %s", date)
		return
	}
	emailA := uniqueEmail("resched-a")
	status, bodyA, err := book(emailA, "First Client", date, clocks[0])
	if err != nil || status != http.StatusCreated {
		t.fatalf("first booking returned %d (%v)", status, err)
		return
	}
	idA, _ := bodyA["consultationId"].(string)
	originalStart, _ := bodyA["slotStart"].(string)

	status, _, err = book(uniqueEmail("resched-b"), "Second Client", date, clocks[1])
	if err != nil || status != http.StatusCreated {
		t.fatalf("second booking returned %d (%v)", status, err)
		return
	}

	status, _, err = doJSON("PATCH", "/api/consultations/"+idA, map[string]string{
		"email": emailA,
		"date":  date,
		"time":  clocks[1],
	}, "")
	if err != nil {
		t.fatalf("reschedule: %v", err)
		return
	}
	t.check("reschedule onto occupied slot is 409", status == http.StatusConflict)

	status, view, err := getConsultation(idA, emailA)
	if err != nil || status != http.StatusOK {
		t.fatalf("get consultation returned %d (%v)", status, err)
		return
	}
	t.check("original booking untouched", view["slotStart"] == originalStart)
}

func scenarioStaffDayList(t *T) {
	if staffSecret == "" {
		fmt.Println("    SKIP: STAFF_JWT_SECRET not set")
		return
	}
	email := uniqueEmail("staff")
	date, clock, err := firstFreeSlot(9)
	if err != nil {
		t.fatalf("slots: %v", err)
		return
	}
	status, body, err := book(email, "E2E Client", date, clock)
	if err != nil || status != http.StatusCreated {
		t.fatalf("book returned %d (%v)", status, err)
		return
	}
	id, _ := body["consultationId"].(string)

	status, _, err = doJSON("GET", "/staff/consultations?date="+date, nil, "")
	if err != nil {
		t.fatalf("unauthenticated staff list: %v", err)
		return
	}
	t.check("staff list without token is 401", status == http.StatusUnauthorized)

	req, _ := http.NewRequest("GET", apiBase+"/staff/consultations?date="+date, nil)
	req.Header.Set("Authorization", "Bearer "+staffJWT)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.fatalf("staff list: %v", err)
		return
	}
	defer resp.Body.Close()
	t.check("staff list with token is 200", resp.StatusCode == http.StatusOK)

	var listed []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.fatalf("decode staff list: %v", err)
		return
	}
	found := false
	for _, c := range listed {
		if c["id"] == id {
			found = true
		}
	}
	t.check("day listing contains the booking", found)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	staffSecret = os.Getenv("STAFF_JWT_SECRET")
	webhookSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if apiBase == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL required")
		os.Exit(1)
	}
	if staffSecret != "" {
		staffJWT = generateJWT(staffSecret)
	}

	scenarios := []scenario{
		{"book-and-pay", scenarioBookAndPay},
		{"hold-state", scenarioHoldState},
		{"slot-conflict", scenarioSlotConflict},
		{"verify-idempotent", scenarioVerifyIdempotent},
		{"cancel-refund", scenarioCancelRefund},
		{"reschedule-conflict", scenarioRescheduleConflict},
		{"staff-day-list", scenarioStaffDayList},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "✅"
		if t.failed > 0 {
			status = "❌"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\n❌ SOME TESTS FAILED")
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL TESTS PASSED")
}
