package anchor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/coramini/relay-server-go/internal/relayclient"
	"github.com/coramini/relay-server-go/internal/sysinfo"
)

const diagnosticsRelayTimeout = 5 * time.Second

// Check is the outcome of one startup diagnostic.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Diagnose checks what the anchor needs before it can serve: the host facts,
// the tool registry, a writable journal and a relay that accepts the key.
// Only the relay check touches the network.
func Diagnose(ctx context.Context, client *relayclient.Client, anchorID string, tools *Registry, journalPath string) []Check {
	info := sysinfo.Collect(time.Time{})
	checks := []Check{{
		Name:   "System",
		OK:     true,
		Detail: fmt.Sprintf("%s %s/%s, %d CPUs", info.Hostname, info.OS, info.Arch, info.CPUCount),
	}}

	names := tools.Names()
	if len(names) == 0 {
		checks = append(checks, Check{Name: "Tools", Detail: "no tools enabled"})
	} else {
		checks = append(checks, Check{Name: "Tools", OK: true, Detail: fmt.Sprintf("%d tools loaded", len(names))})
	}

	checks = append(checks, checkJournal(journalPath))
	checks = append(checks, checkRelay(ctx, client, anchorID))
	return checks
}

func checkJournal(path string) Check {
	if path == "" {
		return Check{Name: "Journal", OK: true, Detail: "disabled"}
	}
	journal, err := OpenJournal(path)
	if err != nil {
		return Check{Name: "Journal", Detail: err.Error()}
	}
	if err := journal.Close(); err != nil {
		return Check{Name: "Journal", Detail: err.Error()}
	}
	return Check{Name: "Journal", OK: true, Detail: filepath.Clean(path)}
}

func checkRelay(ctx context.Context, client *relayclient.Client, anchorID string) Check {
	if err := client.Configured(); err != nil {
		return Check{Name: "Relay", Detail: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, diagnosticsRelayTimeout)
	defer cancel()

	presence, err := client.GetStatus(ctx, anchorID)
	if err != nil {
		return Check{Name: "Relay", Detail: err.Error()}
	}
	state := "never seen"
	switch {
	case presence.Online:
		state = "online"
	case presence.Found():
		state = "offline"
	}
	return Check{Name: "Relay", OK: true, Detail: fmt.Sprintf("reachable, %s is %s", anchorID, state)}
}

// PrintChecks writes one line per check and a summary, and reports how many
// checks failed.
func PrintChecks(out io.Writer, checks []Check) int {
	failed := 0
	for _, c := range checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "  [%-4s] %-8s %s\n", mark, c.Name, c.Detail)
	}
	if failed == 0 {
		fmt.Fprintln(out, "All systems operational.")
	} else {
		fmt.Fprintf(out, "%d check(s) need attention.\n", failed)
	}
	return failed
}
