// Package main mints WorkLink gateway connection tokens. The platform's
// identity service is the production minter; this tool covers local gateways
// and incident tooling, signing with a PEM key file or the platform's
// Secrets Manager entry.
//
// The token goes to stdout so it can be piped straight into a client:
//
//	sign -role worker -sub W-1042 -key dev.pem
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/augustinebeh/worklink-gateway/internal/auth"
	"github.com/augustinebeh/worklink-gateway/internal/config"
	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/adapter"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		roleFlag = flag.String("role", "", "token role: worker or observer")
		subFlag  = flag.String("sub", "", "token subject: the worker ID, or an operator handle for observers")
		keyFlag  = flag.String("key", "", "PEM private key file (default: auth.key_file from config)")
		kidFlag  = flag.String("kid", "", "signing key ID (default: auth.key_id from config)")
		ttlFlag  = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	role := domain.Role(*roleFlag)
	if !domain.IsValidRole(role) {
		return fmt.Errorf("-role must be %q or %q", domain.RoleWorker, domain.RoleObserver)
	}
	if *subFlag == "" {
		return fmt.Errorf("-sub is required")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	key, err := loadSigningKey(ctx, cfg, *keyFlag)
	if err != nil {
		return err
	}

	kid := *kidFlag
	if kid == "" {
		kid = cfg.Auth.KeyID
	}

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore:  auth.NewStaticKeyStore(key, kid),
		AccessTTL: *ttlFlag,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		Clock:     domain.RealClock{},
	})

	result, err := minter.MintAccessToken(*subFlag, role)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "subject=%s role=%s kid=%s expires=%s\n",
		*subFlag, role, kid, result.ExpiresAt.Format(time.RFC3339))
	fmt.Println(result.Token)
	return nil
}

// loadSigningKey resolves the private key: the -key flag, then auth.key_file,
// then the auth.signing_key_secret_id Secrets Manager entry.
func loadSigningKey(ctx context.Context, cfg *config.Config, keyFile string) (*rsa.PrivateKey, error) {
	if keyFile == "" {
		keyFile = cfg.Auth.KeyFile
	}
	if keyFile != "" {
		pemData, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		key, err := adapter.ParseRSAPrivateKey(string(pemData))
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", keyFile, err)
		}
		return key, nil
	}

	if cfg.Auth.SigningKeySecretID == "" {
		return nil, fmt.Errorf("no signing key: set -key, auth.key_file, or auth.signing_key_secret_id")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var smOpts []func(*secretsmanager.Options)
	if cfg.AWS.Endpoint != "" {
		endpoint := cfg.AWS.Endpoint
		smOpts = append(smOpts, func(o *secretsmanager.Options) { o.BaseEndpoint = &endpoint })
	}
	sm := secretsmanager.NewFromConfig(awsCfg, smOpts...)

	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(cfg.Auth.SigningKeySecretID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch signing key %q: %w", cfg.Auth.SigningKeySecretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("signing key %q has no secret string", cfg.Auth.SigningKeySecretID)
	}
	return adapter.ParseRSAPrivateKey(*out.SecretString)
}
