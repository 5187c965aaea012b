// Package vault fetches broker credentials from a HashiCorp Vault KV v2
// mount. With Vault disabled the environment-provided keys are used as-is.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"equity-trading-bot/config"
)

// BrokerCredentials is the secret material for the broker APIs.
type BrokerCredentials struct {
	TradingKey string
	SecretKey  string
	DataKey    string
}

// Client wraps the Vault API client for credential reads.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
}

// NewClient builds the client. A disabled config returns a client whose
// reads fail, so callers must check IsEnabled first.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{cfg: cfg}, nil
	}

	vc := api.DefaultConfig()
	vc.Address = cfg.Address
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	return &Client{client: client, cfg: cfg}, nil
}

// IsEnabled reports whether Vault lookups are configured.
func (c *Client) IsEnabled() bool { return c.cfg.Enabled }

// BrokerCredentials reads the broker keys from the configured KV v2 path.
func (c *Client) BrokerCredentials(ctx context.Context) (*BrokerCredentials, error) {
	if !c.cfg.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.cfg.MountPath, c.cfg.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: no secret at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault: secret at %s is not KV v2", path)
	}

	creds := &BrokerCredentials{
		TradingKey: getString(data, "trading_key"),
		SecretKey:  getString(data, "secret_key"),
		DataKey:    getString(data, "data_key"),
	}
	if creds.TradingKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("vault: secret at %s missing trading_key or secret_key", path)
	}
	if creds.DataKey == "" {
		creds.DataKey = creds.TradingKey
	}
	return creds, nil
}

// Health checks the connection and seal state.
func (c *Client) Health(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
