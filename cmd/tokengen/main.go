// Package main provides a CLI tool for generating bearer tokens for the
// parcelproof API. These tokens use the dev signing key unless JWT_SIGNING_KEY
// is set and must not be used in production.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	jwttoken "parcelproof/internal/jwt_token"
	"parcelproof/internal/platform/config"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/middleware/auth"
	strs "parcelproof/pkg/platform/strings"
)

// Dev signing key - matches config.go when JWT_SIGNING_KEY is not set
const devSigningKey = "dev-secret-key-change-in-production"

var defaultScopes = strings.Join([]string{auth.ScopeIdentity, auth.ScopeHandover, auth.ScopeRead}, ",")

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in"`
	Claims    map[string]any    `json:"claims"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	accessCmd := flag.NewFlagSet("access", flag.ExitOnError)
	userID := accessCmd.String("user-id", "", "User ID (UUID). Generated if empty.")
	scopes := accessCmd.String("scopes", defaultScopes, "Comma-separated scopes")
	ttl := accessCmd.Duration("ttl", config.AccessTokenTTL, "Token time-to-live")
	jsonOut := accessCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "access":
		_ = accessCmd.Parse(os.Args[2:])
		if err := generateAccessToken(*userID, *scopes, *ttl, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Generate bearer tokens for the parcelproof API

WARNING: Without JWT_SIGNING_KEY these tokens use the dev signing key.
         Only use them for local development and testing.

Usage:
  tokengen access [flags]

Examples:
  # Courier token with all scopes
  tokengen access

  # Read-only token for a known user
  tokengen access -user-id "550e8400-e29b-41d4-a716-446655440000" -scopes read

  # Output as JSON
  tokengen access -json`)
}

func generateAccessToken(rawUserID, rawScopes string, ttl time.Duration, jsonOutput bool) error {
	signingKey, keyType := os.Getenv("JWT_SIGNING_KEY"), "env"
	if signingKey == "" {
		signingKey, keyType = devSigningKey, "dev"
	}

	uid, err := parseOrGenerateUUID(rawUserID)
	if err != nil {
		return err
	}
	scopeList := strs.SplitList(rawScopes)

	svc := jwttoken.NewJWTService(signingKey, config.JWTIssuer, config.JWTAudience, ttl)
	token, jti, err := svc.IssueAccessToken(context.Background(), uid, scopeList)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	if jsonOutput {
		return printJSON(tokenOutput{
			Token:     token,
			Type:      "access_token",
			ExpiresIn: ttl.String(),
			Claims: map[string]any{
				"user_id": uid.String(),
				"scope":   scopeList,
				"jti":     jti,
			},
			Usage: map[string]string{
				"header":      "Authorization: Bearer <token>",
				"signing_key": keyType,
			},
		})
	}

	fmt.Println("Access Token (JWT)")
	fmt.Println("==================")
	fmt.Printf("Signing Key: %s\n", keyType)
	fmt.Printf("Expires In:  %s\n", ttl)
	fmt.Printf("User ID:     %s\n", uid)
	fmt.Printf("Scopes:      %v\n", scopeList)
	fmt.Printf("JTI:         %s\n", jti)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/v1/identity")
	return nil
}

func parseOrGenerateUUID(raw string) (id.UserID, error) {
	if raw == "" {
		return id.UserID(uuid.New()), nil
	}
	uid, err := id.ParseUserID(raw)
	if err != nil {
		return id.UserID{}, fmt.Errorf("invalid user-id: %w", err)
	}
	return uid, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
