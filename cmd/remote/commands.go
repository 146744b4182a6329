package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/coramini/relay-server-go/internal/config"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/poller"
	"github.com/coramini/relay-server-go/internal/remote"
)

const defaultAwaitTimeout = 30 * time.Second

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func subcommand(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func (a *app) session() *remote.Session {
	return remote.NewSession(a.client, a.anchor)
}

func (a *app) status(ctx context.Context, args []string) error {
	var all bool
	fs := subcommand("status")
	fs.BoolVar(&all, "all", false, "list every anchor that ever sent a heartbeat")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if all {
		anchors, err := a.client.ListAnchors(ctx)
		if err != nil {
			return err
		}
		return printJSON(anchors)
	}

	ids := fs.Args()
	if len(ids) == 0 {
		ids = []string{a.anchor}
	}

	results := make([]*model.Presence, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			presence, err := remote.NewSession(a.client, id).Status(gctx)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			results[i] = presence
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(results) == 1 {
		return printJSON(results[0])
	}
	return printJSON(results)
}

func (a *app) send(ctx context.Context, args []string) error {
	var (
		params  string
		wait    bool
		timeout time.Duration
	)
	fs := subcommand("send")
	fs.StringVarP(&params, "params", "p", "{}", "command parameters as a JSON object")
	fs.BoolVarP(&wait, "wait", "w", false, "wait for the result")
	fs.DurationVar(&timeout, "timeout", defaultAwaitTimeout, "how long --wait waits")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: send COMMAND", errUsage)
	}

	raw := json.RawMessage(params)
	if !json.Valid(raw) {
		return fmt.Errorf("--params is not valid JSON")
	}

	session := a.session()
	id, err := session.Enqueue(ctx, fs.Arg(0), raw)
	if err != nil {
		return err
	}
	if !wait {
		return printJSON(map[string]string{"command_id": id})
	}
	return a.printResult(ctx, session, id, timeout)
}

func (a *app) result(ctx context.Context, args []string) error {
	var timeout time.Duration
	fs := subcommand("result")
	fs.DurationVar(&timeout, "timeout", defaultAwaitTimeout, "how long to wait")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: result COMMAND_ID", errUsage)
	}
	return a.printResult(ctx, a.session(), fs.Arg(0), timeout)
}

func (a *app) printResult(ctx context.Context, session *remote.Session, id string, timeout time.Duration) error {
	res, err := session.AwaitResult(ctx, id, timeout)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	return res.Err()
}

func (a *app) pair(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: pair <validate|start|confirm|watch> ...", errUsage)
	}
	pairing := remote.NewPairing(a.client, config.PairingPollInterval)

	switch args[0] {
	case "validate":
		if len(args) != 2 {
			return fmt.Errorf("%w: pair validate CODE", errUsage)
		}
		info, err := pairing.Validate(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(info)

	case "start":
		var email, name string
		fs := subcommand("pair start")
		fs.StringVar(&email, "email", "", "email of the claiming user (required)")
		fs.StringVar(&name, "name", "", "display name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 || email == "" {
			return fmt.Errorf("%w: pair start CODE --email EMAIL", errUsage)
		}
		started, err := pairing.Start(ctx, fs.Arg(0), email, name)
		if err != nil {
			return err
		}
		return printJSON(started)

	case "confirm":
		var device string
		fs := subcommand("pair confirm")
		fs.StringVar(&device, "device", "", "name for this device")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: pair confirm TOKEN", errUsage)
		}
		done, _, err := pairing.Confirm(ctx, fs.Arg(0), device)
		if err != nil {
			return err
		}
		return printJSON(done)

	case "watch":
		var timeout time.Duration
		fs := subcommand("pair watch")
		fs.DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: pair watch CODE", errUsage)
		}
		status, err := pairing.WaitForClaim(ctx, fs.Arg(0), timeout)
		if err != nil {
			return err
		}
		return printJSON(map[string]model.PairingStatus{"status": status})

	default:
		return fmt.Errorf("%w: unknown pair command %q", errUsage, args[0])
	}
}

func (a *app) chat(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: chat <post|read|watch> ...", errUsage)
	}
	session := a.session()

	switch args[0] {
	case "post":
		var sender, msgType string
		fs := subcommand("chat post")
		fs.StringVar(&sender, "sender", "remote", "sender name")
		fs.StringVar(&msgType, "type", string(model.ChatMessageText), "text|command|response|error")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: chat post MESSAGE", errUsage)
		}
		id, err := session.Post(ctx, sender, fs.Arg(0), model.ChatMessageType(msgType))
		if err != nil {
			return err
		}
		return printJSON(map[string]int64{"message_id": id})

	case "read":
		var limit int
		fs := subcommand("chat read")
		fs.IntVarP(&limit, "limit", "n", config.DefaultChatLimit, "number of messages")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		window, err := a.client.GetChat(ctx, a.anchor, limit)
		if err != nil {
			return err
		}
		slices.Reverse(window)
		for _, msg := range window {
			printMessage(msg)
		}
		return nil

	case "watch":
		var interval time.Duration
		fs := subcommand("chat watch")
		fs.DurationVar(&interval, "interval", a.cfg.Chat.PollInterval, "poll interval")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return watchChat(ctx, session.ChatCursor(0, config.DefaultChatLimit), interval)

	default:
		return fmt.Errorf("%w: unknown chat command %q", errUsage, args[0])
	}
}

func watchChat(ctx context.Context, cursor *remote.ChatCursor, interval time.Duration) error {
	handle := poller.Start(ctx, func(ctx context.Context) {
		_, err := cursor.PollNew(ctx, func(newer, _ []model.ChatMessage) {
			for _, msg := range newer {
				printMessage(msg)
			}
		})
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "poll failed: %v\n", err)
		}
	}, interval)

	<-ctx.Done()
	handle.Stop()
	return nil
}

func printMessage(msg model.ChatMessage) {
	fmt.Printf("[%s] %s (%s): %s\n", msg.CreatedAt.Local().Format(time.TimeOnly), msg.Sender, msg.Type, msg.Message)
}

func (a *app) devices(ctx context.Context) error {
	devices, err := a.client.ListDevices(ctx, a.anchor)
	if err != nil {
		return err
	}
	return printJSON(devices)
}

func (a *app) unpair(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: unpair DEVICE_ID", errUsage)
	}
	ack, err := a.client.UnpairDevice(ctx, a.anchor, args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]bool{"ack": ack})
}
