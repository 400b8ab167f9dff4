package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rskv-p/natscore/conn"
)

var (
	serversFlag string
	nameFlag    string
	timeoutFlag time.Duration
)

// rootCmd is the entry point for the CLI: one package-level *cobra.Command
// with subcommands added in init.
var rootCmd = &cobra.Command{
	Use:   "natscore",
	Short: "Minimal NATS client demo (connect/pub/sub/request)",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serversFlag, "servers", "127.0.0.1:4222", "comma-separated server list")
	rootCmd.PersistentFlags().StringVar(&nameFlag, "name", "natscore-cli", "client name sent in CONNECT")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 5*time.Second, "timeout for the connect handshake, flush, and request")

	rootCmd.AddCommand(pubCmd)
	rootCmd.AddCommand(subCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(replCmd)
}

func dial(ctx context.Context) (*conn.Conn, error) {
	servers := strings.Split(serversFlag, ",")
	return conn.Connect(ctx,
		conn.WithServers(servers...),
		conn.WithName(nameFlag),
		conn.WithTimeout(timeoutFlag),
	)
}
