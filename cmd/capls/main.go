// Command capls connects to a capwire server, discovers its
// capabilities and prints them grouped by kind.
//
// Usage:
//
//	capls [flags] <server-command> [args...]
//	capls -config capls.yaml -server analytics
//
// The positional server command takes precedence over the config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/capwire/capwire-go/pkg/client"
	"github.com/capwire/capwire-go/pkg/config"
	"github.com/capwire/capwire-go/pkg/logging"
	"github.com/capwire/capwire-go/pkg/protocol"
	"github.com/capwire/capwire-go/pkg/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("capls", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file listing servers")
	serverName := fs.String("server", "", "named server from the config file")
	callTimeout := fs.Duration("timeout", client.DefaultCallTimeout, "per-call timeout")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	spec, err := resolveSpawnSpec(fs.Args(), *configPath, *serverName, callTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "capls:", err)
		return 2
	}

	logger := logging.Nop()
	if *verbose {
		logger = logging.New(os.Stderr, logging.NewTextFormatter())
		logger.SetLevel(logging.DebugLevel)
	}

	session := client.New(transport.NewCommand(spec),
		client.WithLogger(logger),
		client.WithCallTimeout(*callTimeout),
		client.WithClientInfo(protocol.ClientInfo{Name: "capls", Version: "1.0"}),
	)

	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "capls: connect failed:", err)
		return 1
	}
	defer session.Close(ctx)

	if info := session.ServerInfo(); info != nil {
		fmt.Printf("Server: %s", info.Name)
		if info.Version != "" {
			fmt.Printf(" (%s)", info.Version)
		}
		fmt.Println()
	}

	if err := printListing(ctx, session); err != nil {
		fmt.Fprintln(os.Stderr, "capls: discovery failed:", err)
		return 1
	}
	return 0
}

// resolveSpawnSpec turns CLI arguments into a child process spec. A
// positional command wins over the config file.
func resolveSpawnSpec(positional []string, configPath, serverName string, callTimeout *time.Duration) (transport.SpawnSpec, error) {
	if len(positional) > 0 {
		return transport.SpawnSpec{
			Command: positional[0],
			Args:    positional[1:],
		}, nil
	}

	if configPath == "" {
		return transport.SpawnSpec{}, fmt.Errorf("no server command given (pass one positionally or use -config/-server)")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return transport.SpawnSpec{}, err
	}
	if serverName == "" {
		if len(cfg.Servers) != 1 {
			return transport.SpawnSpec{}, fmt.Errorf("config lists %d servers, pick one with -server", len(cfg.Servers))
		}
		serverName = cfg.Servers[0].Name
	}
	sc, ok := cfg.Lookup(serverName)
	if !ok {
		return transport.SpawnSpec{}, fmt.Errorf("server %q not found in %s", serverName, configPath)
	}
	if sc.CallTimeout > 0 {
		*callTimeout = sc.CallTimeout
	}
	return transport.SpawnSpec{
		Command: sc.Command,
		Args:    sc.Args,
		Env:     sc.Env,
	}, nil
}

func printListing(ctx context.Context, session *client.Session) error {
	tools, err := session.Tools(ctx)
	if err != nil {
		return err
	}
	resources, err := session.Resources(ctx)
	if err != nil {
		return err
	}
	prompts, err := session.Prompts(ctx)
	if err != nil {
		return err
	}

	printGroup("Tools", tools)
	printGroup("Resources", resources)
	printGroup("Prompts", prompts)
	return nil
}

func printGroup(title string, descriptors []protocol.CapabilityDescriptor) {
	fmt.Printf("\n%s (%d):\n", title, len(descriptors))
	if len(descriptors) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, d := range descriptors {
		if d.Description != "" {
			fmt.Printf("  %-32s %s\n", d.Name, d.Description)
		} else {
			fmt.Printf("  %s\n", d.Name)
		}
		if d.Schema != nil && len(d.Schema.Required) > 0 {
			fmt.Printf("  %-32s required: %v\n", "", d.Schema.Required)
		}
	}
}
