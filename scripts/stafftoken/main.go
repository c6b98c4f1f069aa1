package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Mints a staff bearer token for the /staff routes. With API_URL set it also
// smoke-tests the token against the staff day listing.
func main() {
	secret := os.Getenv("STAFF_JWT_SECRET")
	if secret == "" {
		fmt.Println("Error: STAFF_JWT_SECRET environment variable not set")
		os.Exit(1)
	}

	ttl := 12 * time.Hour
	if len(os.Args) > 1 {
		parsed, err := time.ParseDuration(os.Args[1])
		if err != nil {
			fmt.Printf("Error: invalid ttl %q (want e.g. 30m, 12h)\n", os.Args[1])
			os.Exit(1)
		}
		ttl = parsed
	}

	claims := jwt.RegisteredClaims{
		Subject:   "staff",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Error signing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tokenString)

	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		return
	}

	date := time.Now().UTC().Format("2006-01-02")
	url := fmt.Sprintf("%s/staff/consultations?date=%s", apiURL, date)
	fmt.Fprintf(os.Stderr, "Checking token against %s...\n", url)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error making request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: HTTP %d\n%s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Token accepted; today's listing:\n%s\n", string(body))
}
