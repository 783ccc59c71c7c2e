package cli

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Progress shows a spinner on w while a slow step runs. A quiet Progress
// prints nothing.
type Progress struct {
	s *spinner.Spinner
}

// StartProgress starts a spinner with message on w.
func StartProgress(w io.Writer, message string, quiet bool) *Progress {
	if quiet {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	s.Start()
	return &Progress{s: s}
}

// Stop removes the spinner.
func (p *Progress) Stop() {
	if p.s != nil {
		p.s.Stop()
	}
}

// Fail replaces the spinner with a red failure line.
func (p *Progress) Fail(message string) {
	if p.s == nil {
		return
	}
	p.s.FinalMSG = text.FgRed.Sprint(message) + "\n"
	p.s.Stop()
}
