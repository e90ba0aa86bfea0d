// ABOUTME: Inspection CLI for the parley coordination state directory
// ABOUTME: Read-only views over persisted sessions and the event ledger

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/collab"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/ledger"
	"github.com/2389/parley/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _
 _ __   __ _ _ __| | ___ _   _
| '_ \ / _' | '__| |/ _ \ | | |
| |_) | (_| | |  | |  __/ |_| |
| .__/ \__,_|_|  |_|\___|\__, |
|_|                      |___/
`

// getConfigPath returns the path to the parley config file.
// Priority: PARLEY_CONFIG env var > XDG_CONFIG_HOME/parley/parley.yaml > ~/.config/parley/parley.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "parley.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "parley", "parley.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parley <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  sessions           List persisted collaboration sessions")
		fmt.Println("  show KEY           Show one session in detail")
		fmt.Println("  stale              List debating sessions past the stale threshold")
		fmt.Println("  events KEY         Show ledger events for a session or delegation")
		fmt.Println("  version            Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "sessions":
		err = runSessions(ctx)
	case "show":
		err = runShow(ctx)
	case "stale":
		err = runStale(ctx)
	case "events":
		err = runEvents(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSessions(ctx context.Context) (*config.Config, []*collab.Session, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	fileStore := store.NewFileStore(cfg.State.Dir, nil)
	loaded, err := fileStore.LoadAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading sessions: %w", err)
	}

	sessions := make([]*collab.Session, 0, len(loaded))
	for _, s := range loaded {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].SessionKey < sessions[j].SessionKey
	})
	return cfg, sessions, nil
}

func runSessions(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	_, sessions, err := loadSessions(ctx)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("  (no sessions persisted)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  KEY\tSTATUS\tMEMBERS\tROUNDS\tDECISIONS\tCREATED")
	fmt.Fprintln(w, "  ---\t------\t-------\t------\t---------\t-------")
	for _, s := range sessions {
		key := s.SessionKey
		if len(key) > 40 {
			key = key[:37] + "..."
		}
		fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%d\t%s\n",
			key, s.Status, len(s.Members), s.RoundCount(), len(s.Decisions),
			s.CreatedAt.Format("Jan 02 15:04"))
	}
	return w.Flush()
}

func runShow(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: parley show KEY")
	}
	key := os.Args[2]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fileStore := store.NewFileStore(cfg.State.Dir, nil)
	session, err := fileStore.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("loading session %q: %w", key, err)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	cyan.Printf("  %s\n", session.SessionKey)
	fmt.Printf("  Topic:     %s\n", session.Topic)
	fmt.Printf("  Status:    %s\n", session.Status)
	fmt.Printf("  Members:   %v\n", session.Members)
	if session.Moderator != "" {
		fmt.Printf("  Moderator: %s\n", session.Moderator)
	}
	fmt.Printf("  Rounds:    %d\n", session.RoundCount())
	fmt.Printf("  Messages:  %d\n", len(session.Messages))
	fmt.Printf("  Created:   %s\n", session.CreatedAt.Format(time.RFC3339))
	fmt.Println()

	for _, d := range session.Decisions {
		cyan.Printf("  Decision: %s\n", d.Topic)
		gray.Printf("    id: %s\n", d.ID)
		fmt.Printf("    proposals: %d\n", len(d.Proposals))
		if d.Consensus != nil && !d.Consensus.DecidedAt.IsZero() {
			green.Printf("    ✓ decided by %s at %s\n",
				d.Consensus.DecidedBy, d.Consensus.DecidedAt.Format("Jan 02 15:04"))
			fmt.Printf("    %s\n", d.Consensus.FinalDecision)
		} else if d.Consensus != nil {
			fmt.Printf("    agreed so far: %v\n", d.Consensus.Agreed)
		} else {
			gray.Println("    (no consensus yet)")
		}
		fmt.Println()
	}
	return nil
}

func runStale(ctx context.Context) error {
	cfg, sessions, err := loadSessions(ctx)
	if err != nil {
		return err
	}

	yellow := color.New(color.FgYellow)
	now := time.Now()
	stale := 0
	for _, s := range sessions {
		if s.Status != collab.StatusDebating || now.Sub(s.CreatedAt) <= cfg.Collab.StaleThreshold {
			continue
		}
		stale++
		yellow.Printf("  %s", s.SessionKey)
		fmt.Printf("  (debating for %s, threshold %s)\n",
			now.Sub(s.CreatedAt).Round(time.Minute), cfg.Collab.StaleThreshold)
	}
	if stale == 0 {
		fmt.Printf("  No stale sessions (threshold %s)\n", cfg.Collab.StaleThreshold)
	} else {
		fmt.Printf("\n  %d session(s) will be archived on next restore\n", stale)
	}
	return nil
}

func runEvents(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: parley events KEY")
	}
	key := os.Args[2]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("ledger is not enabled in %s", getConfigPath())
	}

	l, err := ledger.Open(cfg.Ledger.Path, nil)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer l.Close()

	events, err := l.ListByKey(ctx, key, 200)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}
	if len(events) == 0 {
		fmt.Printf("  No events recorded for %q\n", key)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tKIND\tACTOR\tREF\tBODY")
	fmt.Fprintln(w, "  ----\t----\t-----\t---\t----")
	for _, e := range events {
		body := e.Body
		if len(body) > 48 {
			body = body[:45] + "..."
		}
		ref := e.RefID
		if len(ref) > 32 {
			ref = ref[:29] + "..."
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("Jan 02 15:04:05"), e.Kind, e.Actor, ref, body)
	}
	return w.Flush()
}
