package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/danmuck/mcpbridge/internal/config"
	"github.com/danmuck/mcpbridge/internal/logging"
	"github.com/danmuck/mcpbridge/internal/mcp"
	"github.com/danmuck/mcpbridge/internal/protocol/jsonrpc"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: mcpctl [flags] <command> [args]

commands:
  tools                 list tools on the selected server
  call <tool> [json]    invoke a tool with optional JSON object arguments
  probe                 list tools on every enabled catalog server

flags:
`

var errUsage = errors.New("usage")

type options struct {
	catalog string
	server  string
	url     string
	apiKey  string
	timeout time.Duration
	raw     bool
}

func main() {
	logging.ConfigureRuntime()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mcpctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.catalog, "catalog", "cmd/mcpbridge/servers.toml", "server catalog path")
	fs.StringVar(&opts.server, "server", "", "catalog server name (defaults to the catalog default)")
	fs.StringVar(&opts.url, "url", "", "server base URL; bypasses the catalog")
	fs.StringVar(&opts.apiKey, "key", "", "api key used with -url")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-call timeout")
	fs.BoolVar(&opts.raw, "json", false, "print raw JSON results")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	cfg := mcp.DefaultClientConfig()
	cfg.Session.CallTimeout = opts.timeout
	client, err := mcp.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "mcpctl: %v\n", err)
		return 1
	}
	defer client.Close()

	switch rest[0] {
	case "tools":
		err = cmdTools(ctx, client, opts, stdout)
	case "call":
		err = cmdCall(ctx, client, opts, rest[1:], stdout)
	case "probe":
		err = cmdProbe(ctx, client, opts, stdout)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}
	if err != nil {
		fmt.Fprintf(stderr, "mcpctl: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func selectServer(opts options) (config.ServerConfig, error) {
	if opts.url != "" {
		srv := config.ServerConfig{Name: "adhoc", URL: strings.TrimRight(opts.url, "/"), APIKey: opts.apiKey}
		if err := config.ValidateServer(srv); err != nil {
			return config.ServerConfig{}, err
		}
		return srv, nil
	}
	cat, err := config.LoadCatalog(opts.catalog)
	if err != nil {
		return config.ServerConfig{}, err
	}
	if opts.server == "" {
		srv, ok := cat.Default()
		if !ok {
			return config.ServerConfig{}, fmt.Errorf("catalog %s has no enabled server", opts.catalog)
		}
		return srv, nil
	}
	srv, ok := cat.Lookup(opts.server)
	if !ok {
		return config.ServerConfig{}, fmt.Errorf("server %q not in catalog", opts.server)
	}
	if !srv.IsEnabled() {
		return config.ServerConfig{}, fmt.Errorf("server %q is disabled", opts.server)
	}
	return srv, nil
}

func cmdTools(ctx context.Context, client *mcp.Client, opts options, out io.Writer) error {
	srv, err := selectServer(opts)
	if err != nil {
		return err
	}
	tools, err := client.ListTools(ctx, srv.URL, srv.APIKey)
	if err != nil {
		return err
	}
	if opts.raw {
		return writeJSON(out, tools)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, firstLine(t.Description))
	}
	return tw.Flush()
}

func cmdCall(ctx context.Context, client *mcp.Client, opts options, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: call requires a tool name", errUsage)
	}
	var arguments map[string]any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
			return fmt.Errorf("%w: arguments must be a JSON object: %v", errUsage, err)
		}
	}
	srv, err := selectServer(opts)
	if err != nil {
		return err
	}
	raw, err := client.Invoke(ctx, srv.URL, srv.APIKey, args[0], arguments)
	if err != nil {
		return err
	}
	if opts.raw {
		_, err := fmt.Fprintln(out, string(raw))
		return err
	}
	res, err := jsonrpc.DecodeToolResult(raw)
	if err != nil {
		_, err := fmt.Fprintln(out, string(raw))
		return err
	}
	if _, err := fmt.Fprintln(out, res.Text()); err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("tool %s reported an error", args[0])
	}
	return nil
}

type probeResult struct {
	Server  string        `json:"server"`
	URL     string        `json:"url"`
	Tools   int           `json:"tools"`
	Latency time.Duration `json:"latency"`
	Err     string        `json:"error,omitempty"`
}

// cmdProbe checks every enabled server concurrently. Individual failures are
// reported in the table; the command fails only if every server failed.
func cmdProbe(ctx context.Context, client *mcp.Client, opts options, out io.Writer) error {
	cat, err := config.LoadCatalog(opts.catalog)
	if err != nil {
		return err
	}
	servers := cat.Enabled()
	if len(servers) == 0 {
		return fmt.Errorf("catalog %s has no enabled server", opts.catalog)
	}

	var (
		mu      sync.Mutex
		results = make([]probeResult, 0, len(servers))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			start := time.Now()
			tools, err := client.Probe(gctx, srv.URL, srv.APIKey)
			res := probeResult{Server: srv.Name, URL: srv.URL, Tools: len(tools), Latency: time.Since(start)}
			if err != nil {
				res.Err = err.Error()
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Server < results[j].Server })

	failed := 0
	for _, r := range results {
		if r.Err != "" {
			failed++
		}
	}
	if opts.raw {
		if err := writeJSON(out, results); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SERVER\tURL\tTOOLS\tLATENCY\tERROR")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Server, r.URL, r.Tools, r.Latency.Round(time.Millisecond), r.Err)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if failed == len(results) {
		return fmt.Errorf("all %d servers failed", failed)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
