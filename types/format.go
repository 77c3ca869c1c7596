package types

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
)

// FormatEntries renders captured entries as a markdown table. Fields listed in masked
// have their value replaced by asterisks.
func FormatEntries(entries Entries, masked ...string) string {
	if len(entries) == 0 {
		return ""
	}
	var buf strings.Builder
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Field", "Value", "Note")
	for _, entry := range entries {
		value := entry.Value
		for _, id := range masked {
			if id == entry.ID {
				value = strings.Repeat("*", len(value))
				break
			}
		}
		note := ""
		if entry.Effect.Faulted() {
			note = entry.Effect.Reason
		}
		_ = table.Append(entry.ID, value, note)
	}
	_ = table.Render()
	return buf.String()
}
