// Command devtoken mints a bearer token for local testing against the
// configured auth.jwt_secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"veltrix/internal/auth"
	"veltrix/internal/config"
)

func main() {
	subject := flag.String("sub", "", "user id to put in the token")
	role := flag.String("role", "user", "role claim")
	flag.Parse()

	cfgPath := os.Getenv("VX_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := strings.EqualFold(os.Getenv("VX_ENV_ONLY"), "true") || os.Getenv("VX_ENV_ONLY") == "1"
	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if strings.TrimSpace(*subject) == "" {
		fmt.Fprintln(os.Stderr, "-sub is required")
		os.Exit(2)
	}

	j := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer, TokenTTL: cfg.Auth.TokenTTL}
	tok, exp, err := j.Sign(auth.Claims{Role: *role, RegisteredClaims: jwt.RegisteredClaims{Subject: *subject}})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02 15:04:05Z07:00"))
}
