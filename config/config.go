/*
Package config loads runtime settings from the environment.

ENVIRONMENT:
  STAY_HTTP_ADDR          listen address              (default ":8080")
  STAY_DB_PATH            SQLite file, ":memory:" ok  (default "stay.db")
  STAY_LOG_LEVEL          debug|info|warn|error       (default "info")
  STAY_LOG_FORMAT         text|json                   (default "text")
  STAY_GROUP_A_NAME       display name of group A     (default "Group A")
  STAY_GROUP_B_NAME       display name of group B     (default "Group B")
  STAY_CORS_ORIGINS       comma separated origins     (default "*")
  STAY_REMINDER_SCHEDULE  cron spec of the pending digest, empty disables
                                                      (default "0 9 * * MON")
  STAY_AMQP_URL           RabbitMQ URL; empty means log-only notifications
  STAY_AMQP_EXCHANGE      topic exchange              (default "stay.notifications")
  STAY_APP_URL            base URL used in notification links

  Command-line flags of cmd/stay override the address and database path.
*/
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/warp/shared-stay/reservation"
)

// Prefix is prepended to every variable name.
const Prefix = "STAY"

type Config struct {
	HTTPAddr         string   `envconfig:"HTTP_ADDR" default:":8080"`
	DBPath           string   `envconfig:"DB_PATH" default:"stay.db"`
	LogLevel         string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string   `envconfig:"LOG_FORMAT" default:"text"`
	GroupAName       string   `envconfig:"GROUP_A_NAME" default:"Group A"`
	GroupBName       string   `envconfig:"GROUP_B_NAME" default:"Group B"`
	CORSOrigins      []string `envconfig:"CORS_ORIGINS" default:"*"`
	ReminderSchedule string   `envconfig:"REMINDER_SCHEDULE" default:"0 9 * * MON"`
	AMQPURL          string   `envconfig:"AMQP_URL"`
	AMQPExchange     string   `envconfig:"AMQP_EXCHANGE" default:"stay.notifications"`
	AppURL           string   `envconfig:"APP_URL"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check by type alone.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%s_LOG_FORMAT: unknown format %q (use text or json)", Prefix, c.LogFormat)
	}
	if c.ReminderSchedule != "" {
		if _, err := cron.ParseStandard(c.ReminderSchedule); err != nil {
			return fmt.Errorf("%s_REMINDER_SCHEDULE: %w", Prefix, err)
		}
	}
	if c.DBPath == "" {
		return fmt.Errorf("%s_DB_PATH must not be empty", Prefix)
	}
	return nil
}

// GroupName returns the configured display name of g. A nil config or an
// empty name falls back to "Group A" / "Group B".
func (c *Config) GroupName(g reservation.Group) string {
	var name string
	if c != nil {
		name = c.GroupAName
		if g == reservation.GroupB {
			name = c.GroupBName
		}
	}
	if name == "" {
		return "Group " + string(g)
	}
	return name
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%s_LOG_LEVEL: %w", Prefix, err)
	}
	return lvl, nil
}
