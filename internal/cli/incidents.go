package cli

import (
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"irisctl/internal/iris"
	pkgstrings "irisctl/pkg/strings"
)

// TableOptions tune table rendering.
type TableOptions struct {
	Wide      bool
	NoHeaders bool
	// NoColor disables ANSI colors, for output that is not a terminal.
	NoColor bool
	// Now is the reference time for relative ages. Defaults to time.Now.
	Now time.Time
}

// RenderIncidents writes incidents as a table.
func RenderIncidents(w io.Writer, incidents []*iris.Incident, opts TableOptions) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.Style().Options.SeparateHeader = false
	t.Style().Format.Header = text.FormatUpper
	if opts.NoColor {
		t.Style().Color = table.ColorOptionsDefault
	}

	if !opts.NoHeaders {
		header := table.Row{"ID", "Status", "Application", "Title", "Owner", "Age"}
		if opts.Wide {
			header = append(header, "Plan", "Step")
		}
		t.AppendHeader(header)
	}

	for _, inc := range incidents {
		row := table.Row{
			inc.ID,
			status(inc, opts.NoColor),
			inc.Application,
			pkgstrings.OneLine(inc.Title, pkgstrings.DefaultCellMaxLen),
			dash(inc.Owner),
			Age(now, inc.Created),
		}
		if opts.Wide {
			row = append(row, dash(inc.Plan), inc.CurrentStep)
		}
		t.AppendRow(row)
	}

	t.Render()
}

func status(inc *iris.Incident, noColor bool) string {
	if !inc.Active {
		if noColor {
			return "claimed"
		}
		return text.FgGreen.Sprint("claimed")
	}
	if noColor {
		return "active"
	}
	return text.FgRed.Sprint("active")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Age formats the time since created (epoch seconds) the way kubectl does.
func Age(now time.Time, created int64) string {
	if created <= 0 {
		return "-"
	}
	d := now.Sub(time.Unix(created, 0))
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return strconv.Itoa(int(d.Seconds())) + "s"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m"
	case d < 48*time.Hour:
		return strconv.Itoa(int(d.Hours())) + "h"
	default:
		return strconv.Itoa(int(d.Hours()/24)) + "d"
	}
}
