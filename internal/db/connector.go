package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/pgtally/internal/retry"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// Pool sizing. A load run holds exactly one connection for its whole life.
const (
	MaxConns        = 1
	MaxConnIdleTime = 30 * time.Minute

	// tokenExpiryWarning is the remaining token lifetime below which a warning is logged.
	tokenExpiryWarning = 5 * time.Minute
)

func configurePool(poolConfig *pgxpool.Config, logger pgtally.Logger) {
	poolConfig.MaxConns = MaxConns
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = MaxConnIdleTime
	poolConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		logger.Verbose("%s: %s", notice.Severity, notice.Message)
	}
}

func newRetryExecutor(logger pgtally.Logger) *retry.Executor {
	strategy := retry.NewExponentialBackoff(pgtally.DefaultRetryMaxAttempts,
		retry.WithInitialDelay(pgtally.DefaultRetryInitialDelay),
		retry.WithMaxDelay(pgtally.DefaultRetryMaxDelay),
	)
	return retry.NewExecutor(retry.NewConnectionClassifier(), strategy).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Info("Connection attempt %d failed, retrying in %v: %v", attempt, delay.Round(time.Millisecond), err)
		})
}

// PoolConnector opens a pgx pool with password authentication. When a
// TokenProvider is set, a fresh cloud token replaces the password on every
// attempt (AWS RDS IAM, Azure Entra ID).
type PoolConnector struct {
	config       *pgtally.ConnectionConfig
	tokens       TokenProvider
	providerName string
	executor     *retry.Executor
	logger       pgtally.Logger
}

// NewStandardConnector creates a connector for username/password authentication.
// Retry behavior uses pgtally defaults: DefaultRetryMaxAttempts retries,
// exponential backoff starting at DefaultRetryInitialDelay, max DefaultRetryMaxDelay.
func NewStandardConnector(config *pgtally.ConnectionConfig, logger pgtally.Logger) *PoolConnector {
	return &PoolConnector{
		config:   config,
		executor: newRetryExecutor(logger),
		logger:   logger,
	}
}

// NewTokenConnector creates a connector that authenticates with tokens from provider.
// providerName appears in log and error messages.
func NewTokenConnector(config *pgtally.ConnectionConfig, provider TokenProvider, providerName string, logger pgtally.Logger) *PoolConnector {
	c := NewStandardConnector(config, logger)
	c.tokens = provider
	c.providerName = providerName
	return c
}

// Connect opens the pool and verifies it with a ping, retrying transient failures.
func (c *PoolConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	err := c.executor.Execute(ctx, func(ctx context.Context) error {
		cfg := *c.config
		if c.tokens != nil {
			token, err := c.token(ctx)
			if err != nil {
				return err
			}
			cfg.Password = token
		}

		poolConfig, err := pgxpool.ParseConfig(BuildConnectionString(&cfg))
		if err != nil {
			return fmt.Errorf("failed to parse connection config: %w: %w", pgtally.ErrInvalidConfig, err)
		}
		configurePool(poolConfig, c.logger)

		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return wrapConnectionError(err, c.config.Host, c.config.Port, c.config.Database)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return wrapConnectionError(err, c.config.Host, c.config.Port, c.config.Database)
		}

		pool = p
		return nil
	})
	if err != nil {
		if errors.Is(err, pgtally.ErrInvalidConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", pgtally.ErrConnectionFailed, err)
	}

	c.logger.Verbose("Connected to %s:%d/%s", c.config.Host, c.config.Port, c.config.Database)
	return pool, nil
}

func (c *PoolConnector) token(ctx context.Context) (string, error) {
	token, expiresOn, err := c.tokens.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire %s token from %s: %w", c.providerName, c.tokens, err)
	}
	if left := time.Until(expiresOn); left < tokenExpiryWarning {
		c.logger.Info("Warning: %s token expires in %v", c.providerName, left.Round(time.Second))
	}
	return token, nil
}

// NewConnector creates the Connector matching config.AuthMethod.
func NewConnector(config *pgtally.ConnectionConfig, logger pgtally.Logger) (pgtally.Connector, error) {
	switch config.AuthMethod {
	case pgtally.AuthMethodStandard:
		return NewStandardConnector(config, logger), nil
	case pgtally.AuthMethodAWSIAM:
		provider, err := NewAWSIAMTokenProvider(fmt.Sprintf("%s:%d", config.Host, config.Port), config.AWSRegion, config.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS IAM token provider: %w: %w", pgtally.ErrInvalidConfig, err)
		}
		return NewTokenConnector(config, provider, "AWS IAM", logger), nil
	case pgtally.AuthMethodAzureEntraID:
		provider, err := newAzureProvider(config)
		if err != nil {
			return nil, err
		}
		return NewTokenConnector(config, provider, "Azure", logger), nil
	case pgtally.AuthMethodGoogleIAM:
		if config.GoogleInstance == "" {
			return nil, fmt.Errorf("Google Cloud SQL IAM auth requires --google-instance (project:region:instance): %w", pgtally.ErrInvalidConfig)
		}
		if config.Username == "" {
			return nil, fmt.Errorf("Google Cloud SQL IAM auth requires a username: %w", pgtally.ErrInvalidConfig)
		}
		return NewGoogleCloudSQLConnector(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported auth method %v: %w", config.AuthMethod, pgtally.ErrUnsupportedAuthMethod)
	}
}

// newAzureProvider uses Service Principal credentials when all three are set,
// otherwise the DefaultAzureCredential chain.
func newAzureProvider(config *pgtally.ConnectionConfig) (TokenProvider, error) {
	if config.AzureTenantID != "" && config.AzureClientID != "" && config.AzureClientSecret != "" {
		p, err := NewAzureServicePrincipalProvider(config.AzureTenantID, config.AzureClientID, config.AzureClientSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Service Principal provider: %w", err)
		}
		return p, nil
	}

	p, err := NewAzureDefaultCredentialProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Default Credential provider: %w", err)
	}
	return p, nil
}
