// cmd/crdtsyncctl is the CLI client for a crdtsync node, built with
// Cobra.
//
// Usage:
//
//	crdtsyncctl join crdt:doc1                --server ws://localhost:8080/ws --node cli1
//	crdtsyncctl increment crdt:doc1            --server ws://localhost:8080/ws --node cli1
//	crdtsyncctl set crdt:doc1 '"hello"'        --server ws://localhost:8080/ws --node cli1
//	crdtsyncctl add crdt:tags1 red             --server ws://localhost:8080/ws --node cli1
//	crdtsyncctl watch crdt:doc1                --server ws://localhost:8080/ws --node cli1
//	crdtsyncctl peers                          --http http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"crdtsync/internal/client"
	"crdtsync/internal/policy"
)

var (
	wsServer string
	httpBase string
	nodeID   string
	timeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "crdtsyncctl",
		Short: "CLI client for a crdtsync coordination node",
	}

	root.PersistentFlags().StringVarP(&wsServer, "server", "s",
		"ws://localhost:8080/ws", "crdtsync node WebSocket address")
	root.PersistentFlags().StringVar(&httpBase, "http",
		"http://localhost:8080", "crdtsync node HTTP address (for introspection commands)")
	root.PersistentFlags().StringVar(&nodeID, "node", "cli",
		"node_id to present at connect")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"request timeout")

	root.AddCommand(
		joinCmd(),
		commandCmd("increment", "increment <topic>", "Increment a counter by 1", nil),
		incrementByCmd(),
		commandCmd("decrement", "decrement <topic>", "Decrement a counter by 1", nil),
		setCmd(),
		addCmd(),
		removeCmd(),
		watchCmd(),
		peersCmd(),
		registryCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connectAndJoin dials, performs the connect handshake, and joins topic —
// the shared preamble every per-command subcommand needs.
func connectAndJoin(ctx context.Context, topic string) (*client.Client, error) {
	c, err := client.Dial(ctx, wsServer, nodeID, policy.CapabilityReport{}, httpBase)
	if err != nil {
		return nil, err
	}
	if _, err := c.Join(ctx, topic); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <topic>",
		Short: "Join a topic and print its current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := client.Dial(ctx, wsServer, nodeID, policy.CapabilityReport{}, httpBase)
			if err != nil {
				return err
			}
			defer c.Close()
			data, err := c.Join(ctx, args[0])
			if err != nil {
				return err
			}
			prettyPrint(data)
			return nil
		},
	}
}

// commandCmd builds a subcommand that joins <topic> and issues one
// no-payload command (increment, decrement).
func commandCmd(event, use, short string, _ []string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := connectAndJoin(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			result, err := c.Command(ctx, event, nil)
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func incrementByCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "increment-by <topic> <amount>",
		Short: "Increment a counter by amount",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := connectAndJoin(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			var amount float64
			if _, err := fmt.Sscanf(args[1], "%f", &amount); err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			result, err := c.Command(ctx, "increment_by", map[string]any{"amount": amount})
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <topic> <json-value>",
		Short: "Set an LWW register's value (value must be valid JSON)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := connectAndJoin(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				return fmt.Errorf("value must be valid JSON: %w", err)
			}
			result, err := c.Command(ctx, "set", map[string]any{"value": value})
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <topic> <element>",
		Short: "Add an element to an OR-Set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := connectAndJoin(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			result, err := c.Command(ctx, "add", map[string]any{"element": args[1]})
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <topic> <element>",
		Short: "Remove an element from an OR-Set",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := connectAndJoin(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			result, err := c.Command(ctx, "remove", map[string]any{"element": args[1]})
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <topic>",
		Short: "Join a topic and print every state_updated broadcast until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			dialCtx, cancel := context.WithTimeout(ctx, timeout)
			c, err := connectAndJoin(dialCtx, args[0])
			cancel()
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("watching %s (ctrl-c to stop)\n", args[0])
			for frame := range c.Watch() {
				prettyPrint(frame)
			}
			return nil
		},
	}
}

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List registered peer capability profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := client.NewHTTP(httpBase)
			summary, err := c.Peers(ctx)
			if err != nil {
				return err
			}
			prettyPrint(summary)
			return nil
		},
	}
}

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the server's Registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List all registry keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := client.NewHTTP(httpBase)
			keys, err := c.RegistryKeys(ctx)
			if err != nil {
				return err
			}
			prettyPrint(keys)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a key's current wire-encoded state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c := client.NewHTTP(httpBase)
			wire, err := c.RegistryGet(ctx, args[0])
			if err != nil {
				return err
			}
			prettyPrint(wire)
			return nil
		},
	})
	return cmd
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(data))
}
