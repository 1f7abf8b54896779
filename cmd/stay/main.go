/*
main.go - Application entry point

PURPOSE:
  The stay command runs the booking server and its maintenance tasks.
  Configuration comes from STAY_* environment variables (see config/);
  flags override the listen address and the database path.

COMMANDS:
  serve          HTTP API + reminder scheduler, graceful shutdown
  migrate        Apply schema migrations and print the version
  seed <file>    Replay a YAML seed through the ledger
  scenarios      List the built-in scenarios
  remind         Send the pending digests once
  reset          Delete bookings, periods and audit entries

STARTUP SEQUENCE (serve):
  1. Load and validate config
  2. Open SQLite (migrations run on open)
  3. Build notifier: log, plus RabbitMQ when STAY_AMQP_URL is set
  4. Start HTTP server and reminder scheduler under one errgroup
  5. On SIGINT/SIGTERM: stop scheduler, drain requests (30s), close DB

EXAMPLES:
  stay serve --db ./data/stay.db --addr :3000
  stay seed factory/scenarios/summer-split.yaml --reset
  STAY_LOG_FORMAT=json stay remind

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/warp/shared-stay/config"
	"github.com/warp/shared-stay/notify"
	"github.com/warp/shared-stay/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is what every subcommand gets after PersistentPreRunE.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	var (
		a      app
		dbPath string
	)

	rootCmd := &cobra.Command{
		Use:           "stay",
		Short:         "Shared vacation property booking server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// flag > env > default
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			a.cfg = cfg
			a.logger, err = newLogger(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(a.logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path, \":memory:\" for in-memory (env STAY_DB_PATH)")

	rootCmd.AddCommand(
		newServeCmd(&a),
		newMigrateCmd(&a),
		newSeedCmd(&a),
		newScenariosCmd(),
		newRemindCmd(&a),
		newResetCmd(&a),
	)
	return rootCmd
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func (a *app) openStore() (*sqlite.Store, error) {
	store, err := sqlite.New(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Debug("database opened", "path", a.cfg.DBPath)
	return store, nil
}

// newNotifier always logs notifications and also publishes them to
// RabbitMQ when configured. The returned func releases the connection.
func (a *app) newNotifier(store *sqlite.Store) (*notify.Notifier, func(), error) {
	dispatchers := notify.Multi{notify.LogDispatcher{Logger: a.logger}}
	closeFn := func() {}

	if a.cfg.AMQPURL != "" {
		mq, err := notify.NewAMQPDispatcher(a.cfg.AMQPURL, a.cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		dispatchers = append(dispatchers, mq)
		closeFn = func() {
			if err := mq.Close(); err != nil {
				a.logger.Warn("closing rabbitmq connection", "error", err)
			}
		}
		a.logger.Info("publishing notifications to rabbitmq", "exchange", a.cfg.AMQPExchange)
	}
	return notify.NewNotifier(dispatchers, store, a.logger, a.cfg.AppURL), closeFn, nil
}
