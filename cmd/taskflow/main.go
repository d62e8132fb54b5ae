package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskflow/taskflow/internal/platform/env"
)

var Version = "dev"

type config struct {
	addr               string
	databaseURL        string
	natsURL            string
	jwtSecret          string
	store              string
	locale             string
	logLevel           string
	logFormat          string
	sessionTTL         time.Duration
	idleTTL            time.Duration
	snapshotDebounce   time.Duration
	shutdownTimeout    time.Duration
	natsConnectTimeout time.Duration
	secureCookies      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}
	root := &cobra.Command{
		Use:           "taskflow",
		Short:         "TaskFlow - a server-driven personal task manager",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.databaseURL, "database-url", env.String("DATABASE_URL", env.DefaultDatabaseURL), "Postgres connection string")
	pf.StringVar(&cfg.natsURL, "nats-url", env.String("NATS_URL", env.DefaultNATSURL), "NATS server URL")
	pf.DurationVar(&cfg.natsConnectTimeout, "nats-connect-timeout", env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second), "how long to retry the NATS connection")
	pf.StringVar(&cfg.logLevel, "log-level", env.String("LOG_LEVEL", "info"), "debug, info, warn or error")
	pf.StringVar(&cfg.logFormat, "log-format", env.String("LOG_FORMAT", "text"), "text or json")

	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newMigrateCmd(cfg))
	return root
}
