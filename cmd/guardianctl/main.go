// guardianctl is the control CLI for guardiand.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"guardiand/internal/config"
	"guardiand/internal/ipc"
	"guardiand/internal/ledger"
)

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "control socket path (overrides config)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "status":
		cmdStatus()
	case "recent":
		cmdRecent()
	case "approve":
		requireArg(2, "guardianctl approve <request-id> [approver]")
		cmdApprove(flag.Arg(1), optArg(2, "guardianctl"))
	case "deny":
		requireArg(2, "guardianctl deny <request-id> [approver]")
		cmdDeny(flag.Arg(1), optArg(2, "guardianctl"))
	case "unlock":
		cmdUnlock()
	case "check":
		requireArg(2, "guardianctl check <text>")
		cmdCheck(strings.Join(flag.Args()[1:], " "))
	case "reload-rules":
		cmdReloadRules()
	case "pause":
		cmdPause()
	case "resume":
		cmdResume()
	case "ping":
		cmdPing()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `guardianctl - Control utility for guardiand

Usage: guardianctl [options] <command> [args]

Commands:
  status                    Show daemon status and session statistics
  recent [n]                Print the last n activity entries (default 20)
  approve <request-id>      Approve a pending lock request
  deny <request-id>         Deny a pending lock request (stays locked)
  unlock                    Release the lock with the parent PIN
  check <text>              Dry-run a judgment without recording it
  reload-rules              Reload the rules file
  pause                     Pause monitoring
  resume                    Resume monitoring
  ping                      Check that the daemon is reachable
  help                      Show this help message

Options:
  -config <path>  Path to config file (default: ~/.guardiand/config.toml)
  -socket <path>  Control socket path (overrides config)`)
}

func requireArg(n int, usageLine string) {
	if flag.NArg() < n {
		fmt.Fprintln(os.Stderr, "Usage:", usageLine)
		os.Exit(1)
	}
}

func optArg(i int, def string) string {
	if flag.NArg() > i {
		return flag.Arg(i)
	}
	return def
}

func dial() *ipc.Client {
	path := *socketPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.IPC.SocketPath
	}
	client, err := ipc.Dial(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return client
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdStatus() {
	client := dial()
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		fail(err)
	}

	fmt.Printf("Session:   %s\n", st.SessionID)
	fmt.Printf("Status:    %s\n", st.Status)
	fmt.Printf("Profile:   %s / %s\n", st.Profile.AgeGroup, st.Profile.Strictness)
	if st.Locked {
		fmt.Printf("Locked:    yes\n")
		fmt.Printf("Request:   %s\n", st.RequestID)
	} else {
		fmt.Printf("Locked:    no\n")
	}
	if st.Degraded {
		fmt.Printf("Health:    DEGRADED\n")
	}
	fmt.Printf("Activity:  %d judgments, %d locks, %d approvals, %d denials, %d timeouts\n",
		st.Summary.Judgments, st.Summary.Locks, st.Summary.Approvals,
		st.Summary.Denials, st.Summary.Timeouts)
	if len(st.Summary.ByCategory) > 0 {
		fmt.Println("By category:")
		for cat, n := range st.Summary.ByCategory {
			fmt.Printf("  %-14s %d\n", cat, n)
		}
	}
}

func cmdRecent() {
	limit := 20
	if flag.NArg() > 1 {
		n, err := strconv.Atoi(flag.Arg(1))
		if err != nil || n < 1 {
			fmt.Fprintln(os.Stderr, "Usage: guardianctl recent [n]")
			os.Exit(1)
		}
		limit = n
	}

	client := dial()
	defer client.Close()

	resp, err := client.Recent(limit)
	if err != nil {
		fail(err)
	}
	if len(resp.Entries) == 0 {
		fmt.Println("No activity recorded this session.")
		return
	}
	for _, e := range resp.Entries {
		printEntry(e)
	}
}

func printEntry(e ledger.Entry) {
	ts := e.At.Format("15:04:05")
	switch e.Kind {
	case ledger.EventJudgment:
		extra := ""
		if e.Emergency {
			extra = " EMERGENCY"
		}
		if e.Fallback {
			extra += " fallback"
		}
		fmt.Printf("%s  #%-4d %-10s %s (%.2f) -> %s [%s]%s\n",
			ts, e.Seq, e.Kind, e.Category, e.Confidence, e.Action, e.RuleID, extra)
	case ledger.EventUnlock:
		fmt.Printf("%s  #%-4d %-10s request %s resolved by %s (%s)\n",
			ts, e.Seq, e.Kind, e.RequestID, e.Approver, e.Resolution)
	default:
		fmt.Printf("%s  #%-4d %-10s %s\n", ts, e.Seq, e.Kind, e.Detail)
	}
}

func cmdApprove(requestID, approver string) {
	client := dial()
	defer client.Close()

	if err := client.Approve(requestID, approver); err != nil {
		fail(err)
	}
	fmt.Println("Approved. System unlocked.")
}

func cmdDeny(requestID, approver string) {
	client := dial()
	defer client.Close()

	if err := client.Deny(requestID, approver); err != nil {
		fail(err)
	}
	fmt.Println("Denied. System remains locked.")
}

func cmdUnlock() {
	fmt.Print("Parent PIN: ")
	var pin string
	if _, err := fmt.Scanln(&pin); err != nil || pin == "" {
		fmt.Fprintln(os.Stderr, "No PIN entered")
		os.Exit(1)
	}

	client := dial()
	defer client.Close()

	if err := client.Unlock(pin, "guardianctl"); err != nil {
		fail(err)
	}
	fmt.Println("Unlocked.")
}

func cmdCheck(text string) {
	client := dial()
	defer client.Close()

	resp, err := client.CheckText(text)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Category:   %s (%.2f)\n", resp.Verdict.Category, resp.Verdict.Confidence)
	if resp.Verdict.Explanation != "" {
		fmt.Printf("Reason:     %s\n", resp.Verdict.Explanation)
	}
	if resp.Verdict.Fallback {
		fmt.Println("Note:       analysis unavailable, conservative fallback verdict")
	}
	fmt.Printf("Action:     %s [%s]\n", resp.Result.Action, resp.Result.RuleID)
	if resp.Result.Emergency {
		fmt.Println("Emergency:  yes")
	}
}

func cmdReloadRules() {
	client := dial()
	defer client.Close()

	n, err := client.ReloadRules()
	if err != nil {
		fail(err)
	}
	fmt.Printf("Rules reloaded: %d active\n", n)
}

func cmdPause() {
	client := dial()
	defer client.Close()

	if err := client.Pause(); err != nil {
		fail(err)
	}
	fmt.Println("Monitoring paused.")
}

func cmdResume() {
	client := dial()
	defer client.Close()

	if err := client.Resume(); err != nil {
		fail(err)
	}
	fmt.Println("Monitoring resumed.")
}

func cmdPing() {
	client := dial()
	defer client.Close()

	if err := client.Ping(); err != nil {
		fail(err)
	}
	fmt.Println("guardiand is running.")
}
