package rewardtesting

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresConfig holds the PostgreSQL test container configuration.
type PostgresConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "rewarder"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// NewPostgres starts a PostgreSQL container for the duration of the test and returns its
// connection string. The test is skipped when no container provider is reachable.
func NewPostgres(t *testing.T, cfg *PostgresConfig) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	if cfg == nil {
		cfg = &PostgresConfig{}
	}
	require.NoError(t, cfg.Validate())

	ctx := t.Context()
	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		if err == nil {
			break
		}
		lastErr = err
		if !isRetryableContainerStartErr(err) || attempt == 3 {
			require.NoError(t, fmt.Errorf("failed to start PostgreSQL container: %w", lastErr))
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}

	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get PostgreSQL connection string")
	return connStr
}

func isRetryableContainerStartErr(err error) bool {
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded")
}
