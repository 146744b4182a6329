// remote drives an anchor through the relay: presence, commands, pairing and
// chat.
//
// Usage:
//
//	remote [--config FILE] [--anchor ID] <command> [flags] [args]
//
// Commands:
//
//	status [ANCHOR...]        presence of one or more anchors (--all lists every anchor)
//	send COMMAND              queue a command (--params JSON, --wait, --timeout)
//	result COMMAND_ID         wait for a command result (--timeout)
//	pair validate CODE        show the anchor a code belongs to
//	pair start CODE           begin a claim (--email, --name)
//	pair confirm TOKEN        finish a claim (--device)
//	pair watch CODE           wait until a code is claimed or expires (--timeout)
//	chat post MESSAGE         post to the anchor chat (--sender, --type)
//	chat read                 print recent chat (--limit)
//	chat watch                follow the chat (--interval)
//	devices                   list paired devices
//	unpair DEVICE_ID          revoke a device
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/coramini/relay-server-go/internal/config"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/logging"
	"github.com/coramini/relay-server-go/internal/relayclient"
)

var errUsage = errors.New("usage: remote [--config FILE] [--anchor ID] <status|send|result|pair|chat|devices|unpair> ...")

type app struct {
	cfg    *config.ClientConfig
	client *relayclient.Client
	anchor string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if apperrors.IsValidation(err) || errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	var configPath, anchorID string

	flagSet := pflag.NewFlagSet("remote", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to cora.yaml")
	flagSet.StringVarP(&anchorID, "anchor", "a", "", "anchor id (default: anchor.id from config)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	if _, err := logging.Setup(cfg.Log.Level, ""); err != nil {
		return err
	}
	if anchorID == "" {
		anchorID = cfg.Anchor.ID
	}

	a := &app{
		cfg: cfg,
		client: relayclient.New(relayclient.Options{
			BaseURL: cfg.Relay.URL,
			Key:     cfg.Relay.Key,
			Timeout: cfg.Relay.Timeout,
		}),
		anchor: anchorID,
	}
	if err := a.client.Configured(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "status":
		return a.status(ctx, rest)
	case "send":
		return a.send(ctx, rest)
	case "result":
		return a.result(ctx, rest)
	case "pair":
		return a.pair(ctx, rest)
	case "chat":
		return a.chat(ctx, rest)
	case "devices":
		return a.devices(ctx)
	case "unpair":
		return a.unpair(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}
