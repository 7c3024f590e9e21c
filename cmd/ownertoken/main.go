// ownertoken mints an owner bearer token for the AgentPass API, signed with
// the same JWT_SIGNING_KEY the server reads.
//
//	ownertoken --email owner@example.com --ttl 24h
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	jwttoken "agentpass/internal/jwt_token"
	"agentpass/internal/platform/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var ownerEmail string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("ownertoken", pflag.ContinueOnError)
	flagSet.StringVar(&ownerEmail, "email", "", "owner email to assert (required)")
	flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if ownerEmail == "" {
		return fmt.Errorf("--email is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg := config.FromEnv()
	service := jwttoken.NewJWTService(cfg.JWTSigningKey, jwttoken.DefaultIssuer, jwttoken.DefaultAudience)
	token, err := service.GenerateOwnerToken(ownerEmail, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
