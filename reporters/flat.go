package reporters

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/loupe-ci/loupe/events"
	"github.com/loupe-ci/loupe/runner"
)

// Flat renders every state outcome as one table row, grouped by suite, and
// a totals footer. With a path it writes the table to that file instead of
// stdout.
func Flat(r runner.Runner, path string) error {
	c := &flatCollector{}
	bus := r.Events()

	collect := func(payload any) {
		if ev, ok := payload.(runner.StateEvent); ok {
			c.add(ev)
		}
	}
	bus.On(events.TestResult, collect)
	bus.On(events.UpdateResult, collect)
	bus.On(events.SkipState, collect)
	bus.On(events.Err, collect)

	bus.Once(events.End, func(payload any) {
		stats, ok := payload.(*runner.Stats)
		if !ok {
			return
		}
		if err := c.render(stats, path); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})
	return nil
}

type flatCollector struct {
	mu   sync.Mutex
	rows []runner.StateEvent
}

func (c *flatCollector) add(ev runner.StateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, ev)
}

func (c *flatCollector) render(stats *runner.Stats, path string) error {
	c.mu.Lock()
	rows := make([]runner.StateEvent, len(c.rows))
	copy(rows, c.rows)
	c.mu.Unlock()

	out, closeOut, err := openOutput(path)
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("Visual Regression Results (%s)", formatDuration(stats.Duration)))

	t.AppendHeader(table.Row{
		"Suite", "State", "Browser", "Duration", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Suite", AutoMerge: true, WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, ev := range rows {
		t.AppendRow(table.Row{
			ev.Suite,
			ev.State,
			ev.Browser,
			formatDuration(ev.Duration),
			statusString(ev.Status),
			cleanError(ev.Error),
		})
	}

	switch stats.Status {
	case runner.StatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case runner.StatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		stats.Total,
		"",
		formatDuration(stats.Duration),
		statusString(stats.Status),
		fmt.Sprintf("%d passed, %d failed, %d skipped", stats.Passed, stats.Failed, stats.Skipped),
	})

	t.Render()
	return nil
}

// cleanError strips ANSI escapes and keeps the first line so browser driver
// errors don't wreck the table layout.
func cleanError(msg string) string {
	if msg == "" {
		return ""
	}
	msg = stripansi.Strip(msg)
	if idx := strings.Index(msg, "\n"); idx != -1 {
		msg = msg[:idx]
	}
	return msg
}

func statusString(status runner.Status) string {
	switch status {
	case runner.StatusPass:
		return "✓ pass"
	case runner.StatusUpdated:
		return "↻ updated"
	case runner.StatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
