package chat

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"conclave/internal/domain"
)

// WriteAgents prints a specialist table.
func WriteAgents(w io.Writer, entries []domain.RegistryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no specialists yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLAST ACTIVE\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Name, e.LastActive.Format(time.DateTime), e.Description)
	}
	tw.Flush()
}

// WriteHistory prints a conversation one message per line, with tool calls
// indented under the message that made them.
func WriteHistory(w io.Writer, msgs []domain.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "no messages")
		return
	}
	for _, m := range msgs {
		if m.Content != "" {
			fmt.Fprintf(w, "%s> %s\n", m.Role, m.Content)
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(w, "  tool %s(%s) [%s]", tc.Name, string(tc.Arguments), tc.State)
			if tc.Output != "" {
				fmt.Fprintf(w, " -> %s", oneLine(tc.Output, 120))
			}
			fmt.Fprintln(w)
		}
	}
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
