package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/sessions"
	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

func sessionsCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and edit stored sessions",
	}
	cmd.PersistentFlags().StringVar(&agentID, "agent", "", "agent ID (default: the default agent)")
	cmd.AddCommand(sessionsListCmd(&agentID))
	cmd.AddCommand(sessionsResetModelCmd(&agentID))
	return cmd
}

// openSessions loads config and opens the session store for agentID.
func openSessions(agentID string) (*sessions.Store, string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if agentID == "" {
		agentID = cfg.ResolveDefaultAgentID()
	}
	backend, err := openSessionBackend(cfg)
	if err != nil {
		return nil, "", err
	}
	return sessions.NewStore(backend), cfg.SessionStorePath(agentID), nil
}

func sessionsListCmd(agentID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, path, err := openSessions(*agentID)
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := st.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			if len(state) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no sessions in %s\n", path)
				return nil
			}
			writeSessionTable(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func sessionsResetModelCmd(agentID *string) *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "reset-model <session-key>",
		Short: "Set a session's model override, or clear it (default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, path, err := openSessions(*agentID)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			sel := sessions.ModelSelection{Provider: provider, Model: model}
			if err := st.SetModelOverride(ctx, path, args[0], sel); err != nil {
				return err
			}
			if sel.IsDefault() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: model override cleared\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: model set to %s/%s\n", args[0], provider, model)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider for the override")
	cmd.Flags().StringVar(&model, "model", sessions.DefaultModel, `model for the override ("default" clears it)`)
	return cmd
}

var sessionColumns = []string{"KEY", "CHANNEL", "TYPE", "LABEL", "MODEL", "UPDATED"}

func writeSessionTable(w io.Writer, state store.SessionState) {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := state[keys[i]].UpdatedAt, state[keys[j]].UpdatedAt
		if a != b {
			return a > b
		}
		return keys[i] < keys[j]
	})

	rows := [][]string{sessionColumns}
	for _, k := range keys {
		r := state[k]
		model := "-"
		if r.ModelOverride != "" {
			model = strings.TrimPrefix(r.ProviderOverride+"/"+r.ModelOverride, "/")
		}
		updated := "-"
		if t := r.UpdatedTime(); !t.IsZero() {
			updated = t.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{k, dash(r.Channel), dash(r.ChatType), runewidth.Truncate(dash(r.Label), 24, "…"), model, updated})
	}
	writeTable(w, rows)
}

// writeTable pads cells by display width so CJK and emoji labels align.
func writeTable(w io.Writer, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if n := runewidth.StringWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
