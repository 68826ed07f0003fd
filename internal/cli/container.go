package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/client"
	"github.com/ppiankov/lockwatch/internal/model"
)

var containerLevel model.PolicyLevel

func init() {
	rootCmd.AddCommand(containerCmd)
	containerCmd.AddCommand(containerAddCmd, containerDeleteCmd, containerListCmd)
	containerAddCmd.Flags().Var(newLevelValue(model.Baseline, &containerLevel), "level",
		"Policy level (restricted|baseline|privileged)")
}

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Register and inspect containers",
}

var containerAddCmd = &cobra.Command{
	Use:   "add <id> <init-pid>",
	Short: "Register a container and its init process",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[1])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.AddContainer(ctx, args[0], pid, containerLevel); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "container %s registered (%s, init pid %d)\n", args[0], containerLevel, pid)
			return nil
		})
	},
}

var containerDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a container and all of its processes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.DeleteContainer(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "container %s deleted\n", args[0])
			return nil
		})
	},
}

var containerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			containers, err := c.ListContainers(ctx)
			if err != nil {
				return err
			}
			sort.Slice(containers, func(i, j int) bool { return containers[i].ID < containers[j].ID })
			t := newTable("CONTAINER", "LEVEL")
			for _, ci := range containers {
				t.add(ci.ID, ci.Level)
			}
			t.render(cmd.OutOrStdout())
			return nil
		})
	},
}

func parsePID(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return int32(v), nil
}
