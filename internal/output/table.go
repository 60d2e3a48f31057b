package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nmtlab/nmtgate/internal/keystore"
	"github.com/nmtlab/nmtgate/internal/share"
)

const goalWidth = 40

// TableFormatter renders listings as an ASCII or markdown table.
type TableFormatter struct {
	Markdown bool
}

func (f *TableFormatter) FormatKeys(keys []keystore.Redacted) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Name", "Created"})

	for _, k := range keys {
		t.AppendRow(table.Row{k.Key, k.Name, formatTime(k.Created)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d keys", len(keys))})

	return f.render(t), nil
}

func (f *TableFormatter) FormatShares(shares []share.Summary) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Goal", "Plays", "Created"})

	for _, s := range shares {
		t.AppendRow(table.Row{s.ID, truncate(s.Goal, goalWidth), s.Plays, formatTime(s.CreatedAt)})
	}

	return f.render(t), nil
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
