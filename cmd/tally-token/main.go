// Command tally-token mints a signed bearer token for an owner. Meant
// for local development and operational access, not end-user login.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/auth"
)

func main() {
	_ = godotenv.Load()

	owner := flag.String("owner", "", "owner identifier to embed in the token")
	secret := flag.String("secret", "", "signing secret (defaults to JWT_SECRET)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *owner == "" {
		fmt.Fprintln(os.Stderr, "error: -owner is required")
		flag.Usage()
		os.Exit(2)
	}

	signingSecret := *secret
	if signingSecret == "" {
		signingSecret = os.Getenv("JWT_SECRET")
	}
	if signingSecret == "" {
		fmt.Fprintln(os.Stderr, "error: no signing secret, pass -secret or set JWT_SECRET")
		os.Exit(2)
	}

	token, err := auth.GenerateToken(signingSecret, *owner, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
