package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/client"
	"github.com/ppiankov/lockwatch/internal/server"
)

var socketAddr string

var rootCmd = &cobra.Command{
	Use:   "lockwatch",
	Short: "Container policy enforcement daemon",
	Long: "Tracks which processes belong to which container and enforces a\n" +
		"per-container policy level on syslog, mount and open.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketAddr, "socket", server.DefaultSocket,
		"Daemon address: unix socket path or host:port")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// dial connects to the daemon named by --socket.
func dial() (*client.Client, error) {
	return client.New(socketAddr)
}

// withClient runs fn against a fresh client and closes it afterwards.
func withClient(cmd *cobra.Command, fn func(context.Context, *client.Client) error) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, c)
}
