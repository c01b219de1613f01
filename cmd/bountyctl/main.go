package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
)

// cli carries the resolved profile and output streams for one invocation.
type cli struct {
	ctx    context.Context
	prof   profile
	lookup func(string) (string, bool)
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	summary string
	run     func(c *cli, args []string) int
}

var commands = map[string]command{
	"keygen":  {"generate an identity keystore", (*cli).runKeygen},
	"whoami":  {"print the identity sealed in the profile keystore", (*cli).runWhoami},
	"token":   {"mint a bearer token for the gateway", (*cli).runToken},
	"deposit": {"credit an account balance (admin)", (*cli).runDeposit},
	"balance": {"show token balances", (*cli).runBalance},
	"create":  {"post a bounty and lock its escrow", (*cli).runCreate},
	"list":    {"list bounties", (*cli).runList},
	"show":    {"show a bounty and its escrow", (*cli).runShow},
	"tip":     {"submit a tip, optionally uploading evidence", (*cli).runTip},
	"tips":    {"list visible tips for a bounty", (*cli).runTips},
	"claim":   {"claim a bounty", (*cli).runClaim},
	"claims":  {"list visible claims for a bounty", (*cli).runClaims},
	"verify":  {"approve or reject a claim", (*cli).runVerify},
	"close":   {"close a bounty and settle its escrow", (*cli).runClose},
	"export":  {"export bounties as csv, jsonl or parquet (admin)", (*cli).runExport},
	"audit":   {"show the gateway audit log (admin)", (*cli).runAudit},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup func(string) (string, bool)) int {
	fs := flag.NewFlagSet("bountyctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", "", "path to the TOML profile (default ~/.whistle/profile.toml)")
	server := fs.String("server", "", "gateway base URL, overrides the profile")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	prof, err := loadProfile(*profilePath, lookup)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if s := strings.TrimSpace(*server); s != "" {
		prof.Server = strings.TrimRight(s, "/")
	}
	c := &cli{ctx: ctx, prof: prof, lookup: lookup, stdout: stdout, stderr: stderr}
	return cmd.run(c, rest[1:])
}

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Usage: bountyctl [-profile path] [-server url] <command> [flags]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-8s %s\n", name, commands[name].summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("bountyctl "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) failf(format string, args ...interface{}) int {
	return c.fail(fmt.Errorf(format, args...))
}
