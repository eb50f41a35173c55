// Command tokeninspect decodes a package token and reports whether it would be
// accepted for a package. It works offline: the issuer's public key is taken
// from its did:key identifier.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"parcelproof/internal/identity/did"
	"parcelproof/internal/token"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

type report struct {
	PackageID     string `json:"package_id"`
	Sender        string `json:"sender"`
	Custodian     string `json:"custodian"`
	Destination   string `json:"destination"`
	DeclaredValue int64  `json:"declared_value"`
	DeliverTo     string `json:"deliver_to"`
	CreatedAt     string `json:"created_at"`
	ExpiresAt     string `json:"expires_at"`
	Digest        string `json:"digest"`
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
	Remedy        string `json:"remedy,omitempty"`
}

func main() {
	issuer := flag.String("did", "", "Expected issuer did:key. Defaults to the sender named in the token.")
	pkg := flag.String("package", "", "Package the token is scanned for. Defaults to the package named in the token.")
	at := flag.String("at", "", "Evaluate expiry at this RFC 3339 time instead of now.")
	jsonOut := flag.Bool("json", false, "Output as JSON")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, `tokeninspect - Decode and verify a package token

Usage:
  tokeninspect [flags] <token>
  echo <token> | tokeninspect [flags]

The token may be the base64url form served by GET /v1/packages/{id}/token or
the raw wire bytes on stdin.

Flags:`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*issuer, *pkg, *at, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(issuer, pkg, at string, jsonOut bool) error {
	raw, err := readToken()
	if err != nil {
		return err
	}

	now := time.Now()
	if at != "" {
		if now, err = time.Parse(time.RFC3339, at); err != nil {
			return fmt.Errorf("invalid -at: %w", err)
		}
	}

	t, err := token.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	expected := t.PackageID
	if pkg != "" {
		if expected, err = id.ParsePackageID(pkg); err != nil {
			return fmt.Errorf("invalid -package: %w", err)
		}
	}
	trusted := t.Sender
	if issuer != "" {
		trusted = id.DID(issuer)
	}

	svc := token.NewService(didResolver{trusted: trusted}, nil, token.WithClock(func() time.Time { return now }))
	_, verr := svc.Validate(context.Background(), raw, expected)

	digest, err := t.Digest()
	if err != nil {
		return err
	}
	r := report{
		PackageID:     t.PackageID.String(),
		Sender:        string(t.Sender),
		Custodian:     string(t.Custodian),
		Destination:   t.Destination,
		DeclaredValue: t.DeclaredValue,
		DeliverTo:     t.DeliveryLocation.String(),
		CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     t.ExpiresAt.UTC().Format(time.RFC3339),
		Digest:        digest,
		Valid:         verr == nil,
	}
	if verr != nil {
		reason, ok := token.ReasonOf(verr)
		if !ok {
			return verr
		}
		r.Reason = string(reason)
		r.Remedy = reason.Message()
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printReport(r)
	return nil
}

// readToken takes the first argument or stdin. Text that decodes as base64url
// is unwrapped; anything else is treated as wire bytes.
func readToken() ([]byte, error) {
	var raw []byte
	if flag.NArg() > 0 {
		raw = []byte(flag.Arg(0))
	} else {
		b, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<16))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, errors.New("no token given")
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(text, "=")); err == nil {
		return decoded, nil
	}
	return raw, nil
}

// didResolver trusts exactly one did:key identifier.
type didResolver struct {
	trusted id.DID
}

func (r didResolver) ResolvePublicKey(_ context.Context, d id.DID) (ed25519.PublicKey, error) {
	if d != r.trusted {
		return nil, fmt.Errorf("issuer %s is not trusted: %w", d, sentinel.ErrNotFound)
	}
	pub, err := did.PublicKey(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sentinel.ErrNotFound, err)
	}
	return pub, nil
}

func printReport(r report) {
	fmt.Println("Package Token")
	fmt.Println("=============")
	fmt.Printf("Package:     %s\n", r.PackageID)
	fmt.Printf("Sender:      %s\n", r.Sender)
	fmt.Printf("Custodian:   %s\n", r.Custodian)
	fmt.Printf("Destination: %s\n", r.Destination)
	fmt.Printf("Value:       %d\n", r.DeclaredValue)
	fmt.Printf("Deliver to:  %s\n", r.DeliverTo)
	fmt.Printf("Created:     %s\n", r.CreatedAt)
	fmt.Printf("Expires:     %s\n", r.ExpiresAt)
	fmt.Printf("Digest:      %s\n", r.Digest)
	fmt.Println()
	if r.Valid {
		fmt.Println("Verdict:     valid")
		return
	}
	fmt.Printf("Verdict:     rejected (%s)\n", r.Reason)
	fmt.Printf("Remedy:      %s\n", r.Remedy)
}
