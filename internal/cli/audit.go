package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/audit"
)

var (
	showFilter audit.Filter
	showSince  string
	showFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditShowCmd)
	f := auditShowCmd.Flags()
	f.StringVar(&showFilter.Container, "container", "", "Only entries for this container id")
	f.Int32Var(&showFilter.PID, "pid", 0, "Only entries for this pid")
	f.StringVar(&showFilter.Hook, "hook", "", "Only entries for this hook (syslog|mount|open)")
	f.StringVar(&showFilter.Decision, "decision", "", "Only allow or deny entries")
	f.StringVar(&showSince, "since", "", "Only entries newer than this duration (e.g. 1h)")
	f.StringVarP(&showFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained decision log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the BLAKE3 hash of the previous line. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Show audit entries matching a filter",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	f := showFilter
	if showSince != "" {
		d, err := time.ParseDuration(showSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		f.From = time.Now().Add(-d)
	}

	res, err := audit.Query(args[0], f)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	if showFormat == "json" {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	t := newTable("TIME", "HOOK", "PID", "LEVEL", "DECISION", "REASON", "PATH")
	for _, e := range res.Entries {
		t.add(e.Timestamp, e.Hook, strconv.Itoa(int(e.PID)), e.Level, e.Decision, e.Reason, e.Path)
	}
	t.render(w)

	s := res.Summary
	fmt.Fprintf(w, "\n%d entries: %d allowed, %d denied\n", s.Total, s.AllowCount, s.DenyCount)
	hooks := make([]string, 0, len(s.ByHook))
	for h := range s.ByHook {
		hooks = append(hooks, h)
	}
	sort.Strings(hooks)
	for _, h := range hooks {
		fmt.Fprintf(w, "  %s: %d\n", h, s.ByHook[h])
	}
	return nil
}
