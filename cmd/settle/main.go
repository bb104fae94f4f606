// Command settle triggers final settlement for a competition over the
// internal API. Intended for operators and scheduled jobs.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var (
		baseURL       = flag.String("url", envOr("API_URL", "http://localhost:8080"), "api base url")
		competitionID = flag.String("competition", "", "competition id to settle")
		token         = flag.String("token", os.Getenv("INTERNAL_API_TOKEN"), "internal api token")
		timeout       = flag.Duration("timeout", 30*time.Second, "request timeout")
	)
	flag.Parse()

	if *competitionID == "" {
		log.Fatal("missing -competition")
	}
	if *token == "" {
		log.Fatal("missing internal token, set -token or INTERNAL_API_TOKEN")
	}

	url := fmt.Sprintf("%s/v1/internal/competitions/%s/settle", *baseURL, *competitionID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("X-Internal-Token", *token)

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("settlement failed: %s: %s", resp.Status, body)
	}
	fmt.Println(string(body))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
