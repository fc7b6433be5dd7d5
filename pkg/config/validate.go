package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}
	if strings.TrimSpace(c.Gateway.SecretKey) == "" {
		missing = append(missing, "PAYMONGO_SECRET_KEY")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Pool.DefaultCancellationFee.IsNegative() || c.Pool.DefaultCancellationFee.GreaterThan(hundred) {
		return fmt.Errorf("POOL_DEFAULT_CANCELLATION_FEE must be between 0 and 100, got %s", c.Pool.DefaultCancellationFee)
	}
	if c.Pool.RetryEnabled && c.Pool.RetryInterval <= 0 {
		return fmt.Errorf("POOL_RETRY_INTERVAL must be positive when POOL_RETRY_ENABLED is set")
	}

	return nil
}
