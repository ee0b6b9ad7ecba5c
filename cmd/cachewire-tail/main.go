// Command cachewire-tail connects to a cachewire backend and follows
// its change-event stream interactively: subscribe to entity types,
// issue mutations, and inspect connection health from a prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/cachewire/cachewire-go/pkg/client"
	"github.com/cachewire/cachewire-go/pkg/engine"
	"github.com/cachewire/cachewire-go/pkg/log"
	"github.com/cachewire/cachewire-go/pkg/model"
	"github.com/cachewire/cachewire-go/pkg/subscription"
)

// tailFetcher satisfies the client's fetcher requirement. The tail tool
// only follows the event stream; it has no request/response backend.
type tailFetcher struct{}

func (tailFetcher) Fetch(ctx context.Context, queryKey string) (any, []model.Tag, error) {
	return nil, nil, errors.New("cachewire-tail has no fetch backend")
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		url        = flag.String("url", "", "backend stream endpoint (ws:// or wss://)")
		token      = flag.String("token", "", "bearer token for the handshake")
		verbose    = flag.Bool("v", false, "log protocol traffic to stderr")
	)
	flag.Parse()

	config, err := loadConfig(*configPath, *url, *token)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cachewire-tail:", err)
		os.Exit(1)
	}

	var opts []client.Option
	if *verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		opts = append(opts, client.WithLogger(log.NewSlogAdapter(slog.New(handler))))
	}

	c, err := client.New(config, tailFetcher{}, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cachewire-tail:", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "cachewire-tail: connect:", err)
		os.Exit(1)
	}

	if err := repl(c); err != nil {
		fmt.Fprintln(os.Stderr, "cachewire-tail:", err)
		os.Exit(1)
	}
}

func loadConfig(path, url, token string) (*client.Config, error) {
	if path != "" {
		return client.LoadConfig(path)
	}
	if url == "" {
		return nil, errors.New("either -config or -url is required")
	}
	config := client.DefaultConfig()
	config.URL = url
	config.AuthToken = token
	return config, nil
}

func repl(c *client.Client) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cachewire> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := rl.Stdout()
	handles := make(map[string]*subscription.Handle)

	c.OnMutationResult(func(m *engine.Mutation, err error) {
		if err != nil {
			fmt.Fprintf(out, "! mutation %s failed: %v\n", m.ID, err)
			return
		}
		fmt.Fprintf(out, "* mutation %s confirmed\n", m.ID)
	})

	fmt.Fprintln(out, "connected; type 'help' for commands")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "listen":
			cmdListen(c, out, handles, args[1:])
		case "unlisten":
			cmdUnlisten(out, handles, args[1:])
		case "subs":
			cmdSubs(out, handles)
		case "mutate":
			cmdMutate(c, out, args[1:])
		case "health":
			cmdHealth(c, out)
		case "help":
			printHelp(out)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q; type 'help'\n", args[0])
		}
	}
}

func cmdListen(c *client.Client, out io.Writer, handles map[string]*subscription.Handle, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "usage: listen <entityType> [insert,update,delete|all]")
		return
	}
	entityType := model.EntityType(args[0])

	mask := model.MaskAll
	if len(args) > 1 {
		parsed, err := parseMask(args[1])
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		mask = parsed
	}

	h, err := c.Subscribe(subscription.Config{
		EntityType: entityType,
		Mask:       mask,
		OnEvent: func(d subscription.Delivery) {
			printDelivery(out, entityType, d)
		},
	})
	if err != nil {
		fmt.Fprintln(out, "listen:", err)
		return
	}
	handles[h.ID()] = h
	fmt.Fprintf(out, "listening on %s (%s)\n", entityType, h.ID())
}

func cmdUnlisten(out io.Writer, handles map[string]*subscription.Handle, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "usage: unlisten <subscription-id>")
		return
	}
	h, ok := handles[args[0]]
	if !ok {
		fmt.Fprintf(out, "no such subscription %q\n", args[0])
		return
	}
	h.Release()
	delete(handles, args[0])
	fmt.Fprintln(out, "released")
}

func cmdSubs(out io.Writer, handles map[string]*subscription.Handle) {
	if len(handles) == 0 {
		fmt.Fprintln(out, "no subscriptions")
		return
	}
	ids := make([]string, 0, len(handles))
	for id := range handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "%s  %s\n", id, handles[id].Status())
	}
}

func cmdMutate(c *client.Client, out io.Writer, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(out, "usage: mutate <entityType> <id> <field=value> [field=value ...]")
		return
	}
	delta := make(map[string]any, len(args)-2)
	for _, pair := range args[2:] {
		field, value, ok := strings.Cut(pair, "=")
		if !ok || field == "" {
			fmt.Fprintf(out, "bad field assignment %q\n", pair)
			return
		}
		delta[field] = parseValue(value)
	}

	m, err := c.Mutate(model.EntityType(args[0]), args[1], delta)
	if err != nil {
		fmt.Fprintln(out, "mutate:", err)
		return
	}
	fmt.Fprintf(out, "issued %s\n", m.ID)
}

func cmdHealth(c *client.Client, out io.Writer) {
	s := c.Health()
	fmt.Fprintf(out, "state:          %s\n", s.State)
	fmt.Fprintf(out, "epoch:          %s\n", s.Epoch)
	fmt.Fprintf(out, "uptime:         %s\n", s.Uptime.Round(0))
	fmt.Fprintf(out, "reconnects:     %d\n", s.Reconnects)
	fmt.Fprintf(out, "latency:        %s\n", s.HeartbeatLatency)
	fmt.Fprintf(out, "missed beats:   %d\n", s.MissedHeartbeats)
	fmt.Fprintf(out, "subscriptions:  %d (%d active)\n", s.Subscriptions, s.ActiveSubscriptions)
	fmt.Fprintf(out, "mutations:      %d queued, %d pending\n", s.QueuedMutations, s.PendingMutations)
	fmt.Fprintf(out, "cached results: %d\n", s.CachedResults)
	if s.LastError != "" {
		fmt.Fprintf(out, "last error:     %s (%s)\n", s.LastError, s.LastErrorAt.Format("15:04:05"))
	}
}

func printDelivery(out io.Writer, entityType model.EntityType, d subscription.Delivery) {
	if d.Err != nil {
		fmt.Fprintf(out, "! %s: %v\n", entityType, d.Err)
		return
	}
	ev := d.Event
	rec := ev.Record()
	fmt.Fprintf(out, "%-6s %s/%s v%d seq=%d", ev.Type, ev.EntityType, rec.ID, rec.Version, ev.Sequence)
	if ev.MutationID != "" {
		fmt.Fprintf(out, " mutation=%s", ev.MutationID)
	}
	fmt.Fprintln(out)
}

func parseMask(raw string) (model.EventMask, error) {
	if raw == "all" {
		return model.MaskAll, nil
	}
	var mask model.EventMask
	for _, part := range strings.Split(raw, ",") {
		switch part {
		case "insert":
			mask |= model.MaskInsert
		case "update":
			mask |= model.MaskUpdate
		case "delete":
			mask |= model.MaskDelete
		default:
			return 0, fmt.Errorf("unknown event type %q", part)
		}
	}
	return mask, nil
}

// parseValue guesses the field type: bool, int, float, else string.
func parseValue(raw string) any {
	if raw == "true" || raw == "false" {
		return raw == "true"
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `commands:
  listen <entityType> [insert,update,delete|all]   subscribe and print events
  unlisten <subscription-id>                       release a subscription
  subs                                             list subscriptions
  mutate <entityType> <id> <field=value ...>       issue an optimistic mutation
  health                                           show connection health
  quit                                             exit
`)
}
