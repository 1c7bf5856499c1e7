package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/augustinebeh/worklink-gateway/internal/auth"
	"github.com/augustinebeh/worklink-gateway/internal/config"
	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/dynamo"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/adapter"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/port"
	"github.com/augustinebeh/worklink-gateway/internal/redis"
	"github.com/augustinebeh/worklink-gateway/internal/server"
)

// setup is the gateway composition root. It creates infrastructure clients,
// adapters, the gateway service, and mounts the WebSocket and ops handlers.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger, mux *http.ServeMux) (server.Hooks, error) {
	// 1. Infrastructure clients.
	dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return server.Hooks{}, fmt.Errorf("gateway setup: create dynamo client: %w", err)
	}

	// 2. Stores.
	messageStore := adapter.NewMessageStore(dynamoClient.DB, cfg.DynamoDB.MessagesTable)
	directory := adapter.NewWorkerDirectory(dynamoClient.DB, cfg.DynamoDB.WorkersTable)

	// 3. Token validation (environment-dependent key store).
	clock := domain.RealClock{}
	keyStore, err := createKeyStore(ctx, cfg, clock, logger)
	if err != nil {
		return server.Hooks{}, fmt.Errorf("gateway setup: create key store: %w", err)
	}
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Clock:    clock,
	})

	// 4. Platform collaborators (log/static stand-ins when unconfigured).
	responder := createResponder(cfg, logger)
	sender := createSender(cfg, logger)
	actions := createActionHandler(cfg, logger)
	notifier, err := createNotifier(ctx, cfg, logger)
	if err != nil {
		return server.Hooks{}, fmt.Errorf("gateway setup: create notifier: %w", err)
	}

	// 5. Admission counters (memory or redis backend).
	admission, redisClient := createAdmission(cfg, clock, logger)

	// 6. Gateway service.
	svc := app.NewService(app.ServiceConfig{
		MessageStore:   messageStore,
		Directory:      directory,
		Responder:      responder,
		Sender:         sender,
		Notifier:       notifier,
		Actions:        actions,
		Admission:      admission,
		Validator:      validator,
		Clock:          clock,
		Logger:         logger,
		AttemptTimeout: cfg.Responder.AttemptTimeout,
		MaxAttempts:    cfg.Responder.MaxAttempts,
	})

	// 7. Mount handlers.
	mux.Handle("/ws", port.NewWSHandler(svc, cfg.Gateway.AllowedOrigins, logger))
	port.NewOpsHandler(svc, logger).Register(mux)

	logger.InfoContext(ctx, "gateway service initialized",
		slog.String("admission_backend", cfg.Admission.Backend),
		slog.Int("allowed_origins", len(cfg.Gateway.AllowedOrigins)),
	)

	return server.Hooks{
		Drain: svc.DrainConnections,
		Wait:  svc.Wait,
		Cleanup: func() {
			if redisClient != nil {
				if err := redisClient.Close(); err != nil {
					logger.Warn("closing redis client", slog.String("error", err.Error()))
				}
			}
		},
	}, nil
}

// createKeyStore returns the key store for the environment.
// Local: a static key pair, read from auth.key_file when set, otherwise
// ephemeral. Production: signing key from Secrets Manager and public keys
// from SSM Parameter Store, eagerly loaded so startup fails without them.
func createKeyStore(ctx context.Context, cfg *config.Config, clock domain.Clock, logger *slog.Logger) (auth.KeyStore, error) {
	if cfg.IsLocal() {
		key, source, err := localSigningKey(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using static key store for local development",
			slog.String("key_id", cfg.Auth.KeyID),
			slog.String("source", source),
		)
		return auth.NewStaticKeyStore(key, cfg.Auth.KeyID), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var smOpts []func(*secretsmanager.Options)
	var ssmOpts []func(*awsssm.Options)
	if cfg.AWS.Endpoint != "" {
		endpoint := cfg.AWS.Endpoint
		smOpts = append(smOpts, func(o *secretsmanager.Options) { o.BaseEndpoint = &endpoint })
		ssmOpts = append(ssmOpts, func(o *awsssm.Options) { o.BaseEndpoint = &endpoint })
	}

	return adapter.NewAWSKeyStore(ctx,
		secretsmanager.NewFromConfig(awsCfg, smOpts...),
		awsssm.NewFromConfig(awsCfg, ssmOpts...),
		cfg.Auth.PublicKeySSMPrefix,
		clock,
	)
}

// localSigningKey loads the dev key pair from auth.key_file, or generates an
// ephemeral one. A shared key file lets cmd/sign mint tokens this gateway
// accepts.
func localSigningKey(cfg *config.Config) (*rsa.PrivateKey, string, error) {
	if cfg.Auth.KeyFile != "" {
		pemData, err := os.ReadFile(cfg.Auth.KeyFile)
		if err != nil {
			return nil, "", fmt.Errorf("read key file: %w", err)
		}
		key, err := adapter.ParseRSAPrivateKey(string(pemData))
		if err != nil {
			return nil, "", fmt.Errorf("parse key file %s: %w", cfg.Auth.KeyFile, err)
		}
		return key, cfg.Auth.KeyFile, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, "", fmt.Errorf("generate dev RSA key: %w", err)
	}
	return key, "ephemeral", nil
}

// createResponder returns the HTTP responder when configured, otherwise the
// canned local responder. The per-attempt budget is enforced by the response
// pipeline, so the HTTP client keeps its default ceiling.
func createResponder(cfg *config.Config, logger *slog.Logger) app.Responder {
	if cfg.Responder.BaseURL == "" {
		logger.Info("using static responder (no responder.base_url configured)")
		return adapter.NewStaticResponder("")
	}
	return adapter.NewHTTPResponder(cfg.Responder.BaseURL, nil)
}

// createSender returns the HTTP sender when configured, otherwise the
// logging sender.
func createSender(cfg *config.Config, logger *slog.Logger) app.Sender {
	if cfg.Sender.BaseURL == "" {
		logger.Info("using log sender (no sender.base_url configured)")
		return adapter.NewLogSender(logger)
	}
	return adapter.NewHTTPSender(cfg.Sender.BaseURL, &http.Client{Timeout: cfg.Sender.Timeout})
}

// createActionHandler returns the HTTP action handler when configured,
// otherwise the logging handler.
func createActionHandler(cfg *config.Config, logger *slog.Logger) app.ActionHandler {
	if cfg.Actions.BaseURL == "" {
		logger.Info("using log action handler (no actions.base_url configured)")
		return adapter.NewLogActionHandler(logger)
	}
	return adapter.NewHTTPActionHandler(cfg.Actions.BaseURL, &http.Client{Timeout: cfg.Actions.Timeout})
}

// createNotifier returns the SNS notifier when a topic is configured,
// otherwise the logging notifier.
func createNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app.Notifier, error) {
	if cfg.Notification.TopicARN == "" {
		logger.Info("using log notifier (no notification.topic_arn configured)")
		return adapter.NewLogNotifier(logger), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var snsOpts []func(*sns.Options)
	if cfg.AWS.Endpoint != "" {
		endpoint := cfg.AWS.Endpoint
		snsOpts = append(snsOpts, func(o *sns.Options) { o.BaseEndpoint = &endpoint })
	}

	return adapter.NewSNSNotifier(sns.NewFromConfig(awsCfg, snsOpts...), cfg.Notification.TopicARN), nil
}

// createAdmission returns the admission backend and, for redis, the client
// whose lifetime the cleanup hook owns.
func createAdmission(cfg *config.Config, clock domain.Clock, logger *slog.Logger) (app.Admission, *redis.Client) {
	if cfg.Admission.Backend == "redis" {
		redisClient := redis.NewClient(redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password.Expose(),
			DB:           cfg.Redis.DB,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		return adapter.NewRedisAdmission(redisClient.RDB, adapter.RedisAdmissionConfig{
			ConnectionLimit:  cfg.Admission.ConnectionLimit,
			ConnectionWindow: cfg.Admission.ConnectionWindow,
			MessageLimit:     cfg.Admission.MessageLimit,
			MessageWindow:    cfg.Admission.MessageWindow,
		}), redisClient
	}

	logger.Info("using in-memory admission windows")
	return app.NewMemoryAdmission(app.MemoryAdmissionConfig{
		ConnectionLimit:  cfg.Admission.ConnectionLimit,
		ConnectionWindow: cfg.Admission.ConnectionWindow,
		MessageLimit:     cfg.Admission.MessageLimit,
		MessageWindow:    cfg.Admission.MessageWindow,
		Clock:            clock,
	}), nil
}
