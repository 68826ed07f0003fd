package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/api"
	"github.com/ppiankov/lockwatch/internal/client"
	"github.com/ppiankov/lockwatch/internal/enforce"
)

var (
	checkFormat string
	checkSource string
	checkFSType string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.PersistentFlags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.AddCommand(checkSyslogCmd, checkMountCmd, checkOpenCmd)
	checkMountCmd.Flags().StringVar(&checkSource, "source", "", "Mount source (omit to simulate an unreadable argument)")
	checkMountCmd.Flags().StringVar(&checkFSType, "type", "", "Filesystem type (omit to simulate an unreadable argument)")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask the daemon for a hook decision",
	Long: "Evaluates a syslog, mount or open hook for a pid through the daemon.\n" +
		"Exit code 0 if allowed, 1 if denied. An unreachable daemon denies.",
}

var checkSyslogCmd = &cobra.Command{
	Use:   "syslog <pid>",
	Short: "Check access to the kernel log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args[0], func(req *api.CheckRequest) {})
	},
}

var checkMountCmd = &cobra.Command{
	Use:   "mount <pid>",
	Short: "Check a mount",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args[0], func(req *api.CheckRequest) {
			if cmd.Flags().Changed("source") {
				req.Source = &checkSource
			}
			if cmd.Flags().Changed("type") {
				req.FSType = &checkFSType
			}
		})
	},
}

var checkOpenCmd = &cobra.Command{
	Use:   "open <pid> <path>",
	Short: "Check a file open",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args[0], func(req *api.CheckRequest) {
			req.Path = &args[1]
		})
	},
}

func runCheck(cmd *cobra.Command, pidArg string, fill func(*api.CheckRequest)) error {
	pid, err := parsePID(pidArg)
	if err != nil {
		return err
	}
	hook, _ := enforce.ParseHook(cmd.Name())
	req := &api.CheckRequest{Hook: string(hook), PID: pid}
	fill(req)

	var d client.Decision
	err = withClient(cmd, func(ctx context.Context, c *client.Client) error {
		d = c.Check(ctx, req)
		return nil
	})
	if err != nil {
		return err
	}
	if err := printDecision(cmd.OutOrStdout(), d); err != nil {
		return err
	}
	if !d.Allowed() {
		os.Exit(1)
	}
	return nil
}

func printDecision(w io.Writer, d client.Decision) error {
	if checkFormat == "json" {
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}
	fmt.Fprintf(w, "%s: %s\n", d.Decision, d.Reason)
	if d.Level != "" {
		fmt.Fprintf(w, "  level:     %s\n", d.Level)
	}
	if d.Container != "" {
		fmt.Fprintf(w, "  container: %s\n", d.Container)
	}
	if d.RulesHash != "" {
		fmt.Fprintf(w, "  rules:     %s\n", d.RulesHash)
	}
	if d.Source != "" {
		fmt.Fprintf(w, "  source:    %s\n", d.Source)
	}
	return nil
}
