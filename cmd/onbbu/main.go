// Package main is the entrypoint for the onbbu binary.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/njavilas2015/onbbu/internal/config"
	"github.com/njavilas2015/onbbu/internal/server"
	"github.com/njavilas2015/onbbu/pkg/db"
)

const usage = `Usage: onbbu <command> [args]
       onbbu gateway                       Serve the HTTP and websocket routes of ROUTES_FILE.
       onbbu worker                        Serve the echo and health contracts on SUBJECT.
       onbbu call <subject> <name> [json]  Call one contract and print its response.
       onbbu ensure-db [name]              Create the database if missing (default: the one in DATABASE_URL).

Commands:
  gateway          Forward HTTP requests and websocket frames to contracts. /ws is the websocket endpoint.
  worker           Join the "worker" queue group of SUBJECT. token.sign and token.verify are added when SECRET_KEY
                   is set, store.set, store.get and store.delete when REDIS_URL is set.
  call             One-shot caller; exits non-zero unless the reply status is success.
  ensure-db        Create a database on the host of DATABASE_URL and enable pgcrypto.

Environment: COMMS_URL or NATS_HOST/NATS_PORT, SERVICE_NAME, SUBJECT, REQUEST_TIMEOUT (default 10s),
DRAIN_TIMEOUT (default 10s), ROUTES_FILE (default routes.yaml), HTTP_PORT (default 8000), HTTPS_PORT,
TLS_KEY, TLS_CERT, RATE_LIMIT_ENABLED, RATE_LIMIT_RPS, RATE_LIMIT_BURST, WS_PING_INTERVAL,
HEALTH_PORT (default 8080), SECRET_KEY, TOKEN_TTL, REDIS_URL, REDIS_PASSWORD, DATABASE_URL, DB_SSL, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "gateway", "worker", "call", "ensure-db":
	case "":
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("onbbu: load config: %v", err)
	}
	server.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cmd, args[1:]); err != nil {
		stop()
		log.Fatalf("onbbu %s: %v", cmd, err)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "gateway":
		return server.RunGateway(ctx, cfg)
	case "worker":
		return server.RunWorker(ctx, cfg)
	case "call":
		if len(args) < 2 {
			return fmt.Errorf("require <subject> <name> [json]")
		}
		payload := ""
		if len(args) > 2 {
			payload = args[2]
		}
		return server.RunCall(ctx, cfg, args[0], args[1], payload, os.Stdout)
	case "ensure-db":
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return runEnsureDB(ctx, cfg, name)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func runEnsureDB(ctx context.Context, cfg *config.Config, name string) error {
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	target, err := db.WithSSL(cfg.DatabaseURL, cfg.DBSSL)
	if err != nil {
		return err
	}
	if name != "" {
		if target, err = db.WithDatabase(target, name); err != nil {
			return err
		}
	}
	created, err := db.EnsureDatabase(ctx, target)
	if err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", created)
	return nil
}
