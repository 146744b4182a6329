// anchor runs on the machine being controlled. It publishes presence,
// executes queued commands and answers the chat, talking to the relay only
// by polling.
//
// With --pair it instead issues a pairing code, prints it and waits for a
// remote to claim it. --check runs the startup diagnostics and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/coramini/relay-server-go/internal/anchor"
	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/config"
	"github.com/coramini/relay-server-go/internal/logging"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/relayclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		pair        bool
		pairTimeout time.Duration
		showQR      bool
		noChat      bool
		check       bool
	)

	flagSet := pflag.NewFlagSet("anchor", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to cora.yaml (default: ./cora.yaml or ~/.cora/cora.yaml)")
	flagSet.BoolVar(&pair, "pair", false, "issue a pairing code and wait for a remote to claim it")
	flagSet.DurationVar(&pairTimeout, "pair-timeout", 0, "how long --pair waits (default: until the code expires)")
	flagSet.BoolVar(&showQR, "qr", false, "with --pair, also render the pair URL as a QR code")
	flagSet.BoolVar(&noChat, "no-chat", false, "do not answer chat messages")
	flagSet.BoolVar(&check, "check", false, "run startup diagnostics and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	client := relayclient.New(relayclient.Options{
		BaseURL: cfg.Relay.URL,
		Key:     cfg.Relay.Key,
		Timeout: cfg.Relay.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	tools := anchor.NewRegistry(cfg.Safety.BlockedCommands)
	if err := anchor.RegisterBuiltins(tools, clk, clk.Now()); err != nil {
		return err
	}

	if check {
		checks := anchor.Diagnose(ctx, client, cfg.Anchor.ID, tools, cfg.Anchor.JournalPath)
		if failed := anchor.PrintChecks(os.Stdout, checks); failed > 0 {
			return fmt.Errorf("%d diagnostic check(s) failed", failed)
		}
		return nil
	}

	if err := client.Configured(); err != nil {
		return err
	}

	if pair {
		session := anchor.NewPairingSession(client, cfg.Anchor.ID, cfg.Anchor.Name, cfg.PairURL, os.Stdout, config.PairingPollInterval).
			ShowQR(showQR)
		status, err := session.Run(ctx, pairTimeout)
		if err != nil {
			return err
		}
		if status != model.PairingStatusClaimed {
			return fmt.Errorf("pairing ended with status %s", status)
		}
		return nil
	}

	journal, err := anchor.OpenJournal(cfg.Anchor.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	anchorCfg := anchor.ConfigFromClient(cfg)
	if noChat {
		anchorCfg.ChatEnabled = false
	}

	log.Info().
		Str("anchorId", cfg.Anchor.ID).
		Str("relay", cfg.Relay.URL).
		Strs("tools", tools.Names()).
		Msg("starting anchor")

	return anchor.New(client, tools, journal, nil, clk, anchorCfg).Run(ctx)
}
