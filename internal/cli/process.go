package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/client"
	"github.com/ppiankov/lockwatch/internal/procfs"
)

var processProcRoot string

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.AddCommand(processAddCmd, processListCmd)
	processListCmd.Flags().StringVar(&processProcRoot, "proc", procfs.DefaultRoot, "procfs mount point")
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Register and inspect container processes",
}

var processAddCmd = &cobra.Command{
	Use:   "add <container-id> <pid>",
	Short: "Add a process to a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[1])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.AddProcess(ctx, args[0], pid); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pid %d added to container %s\n", pid, args[0])
			return nil
		})
	},
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered processes with their resolved level",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := procfs.New(processProcRoot)
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			procs, err := c.ListProcesses(ctx)
			if err != nil {
				return err
			}
			sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })

			t := newTable("PID", "RUNNING", "EXE", "CONTAINER", "LEVEL")
			for _, p := range procs {
				exe, err := fs.Exe(p.PID)
				if err != nil {
					exe = "-"
				}
				t.add(strconv.Itoa(int(p.PID)), strconv.FormatBool(fs.Alive(p.PID)), exe, p.ContainerID, p.Level)
			}
			t.render(cmd.OutOrStdout())
			return nil
		})
	},
}
