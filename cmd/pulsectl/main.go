package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/pulse/internal/api"
	"github.com/matheus3301/pulse/internal/auth"
	"github.com/matheus3301/pulse/internal/config"
	"github.com/matheus3301/pulse/internal/instance"
	"github.com/matheus3301/pulse/internal/lock"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// token is answered locally from the shared config.
	if args[0] == "token" {
		cmdToken(args[1:])
		return
	}

	c, err := api.Dial(instance.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, name, *jsonFlag)
	case "online":
		cmdOnline(ctx, c, *jsonFlag)
	case "put-user":
		cmdPutUser(ctx, c, args[1:])
	case "put-group":
		cmdPutGroup(ctx, c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pulsectl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                                  Show daemon status")
	fmt.Fprintln(os.Stderr, "  online                                  List online users")
	fmt.Fprintln(os.Stderr, "  put-user <id> [--name n] [--email e]    Create or update a user")
	fmt.Fprintln(os.Stderr, "  put-group <id> <member,...> [--name n] [--admin id]")
	fmt.Fprintln(os.Stderr, "                                          Create or replace a group")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                          Stream daemon events")
	fmt.Fprintln(os.Stderr, "  token <user> [--ttl 24h]                Mint a client token")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(ctx context.Context, c *api.Client, name string, jsonOut bool) {
	resp, err := c.Status(ctx)
	if err != nil {
		pid, addr := lock.Holder(instance.Dir(name))
		if pid != 0 {
			fmt.Fprintf(os.Stderr, "daemon PID %d (%s) is not answering\n", pid, addr)
		}
		fail(err)
	}
	fields := resp.AsMap()
	if jsonOut {
		outputJSON(fields)
		return
	}
	fmt.Printf("Instance: %v\n", fields["instance"])
	fmt.Printf("Status:   %v\n", fields["state"])
	fmt.Printf("Uptime:   %vms\n", fields["uptime_ms"])
	fmt.Printf("Sessions: %v (%v users online)\n", fields["sessions"], fields["online_users"])
	fmt.Printf("Channels: %v\n", fields["channels"])
}

func cmdOnline(ctx context.Context, c *api.Client, jsonOut bool) {
	users, err := c.ListOnline(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	if len(users) == 0 {
		fmt.Println("No users online.")
		return
	}
	for _, u := range users {
		fmt.Println(u)
	}
}

func cmdPutUser(ctx context.Context, c *api.Client, args []string) {
	fs := flag.NewFlagSet("put-user", flag.ExitOnError)
	nameFlag := fs.String("name", "", "display name")
	emailFlag := fs.String("email", "", "email for offline notifications")
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pulsectl put-user <id> [--name n] [--email e]")
		os.Exit(1)
	}
	_ = fs.Parse(args[1:])
	if err := c.PutUser(ctx, args[0], *nameFlag, *emailFlag); err != nil {
		fail(err)
	}
	fmt.Printf("User %s saved.\n", args[0])
}

func cmdPutGroup(ctx context.Context, c *api.Client, args []string) {
	fs := flag.NewFlagSet("put-group", flag.ExitOnError)
	nameFlag := fs.String("name", "", "group name")
	adminFlag := fs.String("admin", "", "admin user id")
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: pulsectl put-group <id> <member,...> [--name n] [--admin id]")
		os.Exit(1)
	}
	_ = fs.Parse(args[2:])
	members := strings.Split(args[1], ",")
	if err := c.PutGroup(ctx, args[0], *nameFlag, *adminFlag, members); err != nil {
		fail(err)
	}
	fmt.Printf("Group %s saved with %d members.\n", args[0], len(members))
}

func cmdWatch(c *api.Client, args []string, jsonOut bool) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.WatchEvents(ctx, prefix, func(evt *structpb.Struct) error {
		fields := evt.AsMap()
		if jsonOut {
			outputJSON(fields)
			return nil
		}
		fmt.Printf("%v %-24v %s\n", fields["ts"], fields["kind"], compact(fields["payload"]))
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	ttlFlag := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pulsectl token <user> [--ttl 24h]")
		os.Exit(1)
	}
	_ = fs.Parse(args[1:])

	cfg, err := config.LoadOrDefault(instance.ConfigPath())
	if err != nil {
		fail(err)
	}
	tok, err := auth.NewVerifier(cfg.Auth).Issue(args[0], *ttlFlag)
	if err != nil {
		fail(err)
	}
	fmt.Println(tok)
}

// compact renders a payload map as sorted key=value pairs.
func compact(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
