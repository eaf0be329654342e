package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# options-algo configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Product type for entry and stop-loss orders: MIS, NRML
product = "MIS"

[execution]
# How often to poll the broker for entry fills
poll_interval = "2s"
# Give up on a fill after this long and mark the leg FAILED
fill_timeout = "30s"

[stoploss]
# Round stop-loss triggers to this tick (0 disables)
tick_size = 0.05

[scheduler]
# Jobs found overdue by more than missed_grace: "drop" or "fire"
missed_policy = "drop"
missed_grace = "5m"
history_size = 200

[squareoff]
# Install an auto square-off at this IST time every weekday (empty disables)
daily_at = ""

[broker]
# Requests per second per gateway and burst size
rate_limit = 8.0
burst = 4
call_timeout = "10s"
# Attempts for read-only calls on transient errors (orders are never retried)
read_retries = 3
failure_threshold = 5
reset_timeout = "30s"

[store]
# Backend: memory, sqlite, redis
backend = "sqlite"
# sqlite_path = "~/.config/options-algo/algo.db"
redis_addr = "localhost:6379"
redis_password = ""
redis_db = 0
redis_prefix = "algo"

[api]
addr = "127.0.0.1:8080"
default_owner = "default"
rate_limit = 20.0
burst = 40
allowed_origins = ["http://localhost:5173"]
request_timeout = "90s"

[logging]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
audit_enabled = true

[notifications]
enabled = false
# Notification level: all, trades_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[paper]
volatility = 0.006
strikes = 20

[paper.spot]
NIFTY = 22000.0
SENSEX = 72000.0

# Contract overrides
# [indices.NIFTY]
# lot_size = 75
# strike_interval = 50

[[accounts]]
owner = "default"
# mode = "paper"
`

const credentialsTemplate = `# options-algo credentials
# WARNING: Keep this file secure! Do not commit to version control.

# One table per account owner (owner names are case-insensitive)
[zerodha.default]
api_key = ""
api_secret = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
