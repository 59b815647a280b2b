package statesync

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the color scheme of the terminal report.
type Theme struct {
	Header  lipgloss.Color
	Info    lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Header:  lipgloss.Color("#5FAFD7"),
	Info:    lipgloss.Color("#D0D0D0"),
	Success: lipgloss.Color("#00D787"),
	Warning: lipgloss.Color("#FFAF00"),
	Error:   lipgloss.Color("#FF005F"),
	Hint:    lipgloss.Color("#6C6C6C"),
}

func (t Theme) headerStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Header).Bold(true)
}

func (t Theme) style(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// Presenter renders the run for the operator. Display order options never
// affect apply order.
type Presenter struct {
	w           io.Writer
	theme       Theme
	SortBy      SortKey
	DetailLimit int
}

// NewPresenter creates a presenter writing to w.
func NewPresenter(w io.Writer) *Presenter {
	return &Presenter{w: w, theme: defaultTheme, SortBy: SortByCount, DetailLimit: 20}
}

// Section prints a section title.
func (p *Presenter) Section(title string) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.theme.headerStyle().Render(strings.ToUpper(title)))
	fmt.Fprintln(p.w, p.theme.style(p.theme.Hint).Render(strings.Repeat("─", 60)))
}

func (p *Presenter) Info(format string, args ...any) {
	p.line(p.theme.Info, "", format, args...)
}

func (p *Presenter) Success(format string, args ...any) {
	p.line(p.theme.Success, "✓ ", format, args...)
}

func (p *Presenter) Warn(format string, args ...any) {
	p.line(p.theme.Warning, "! ", format, args...)
}

func (p *Presenter) Error(format string, args ...any) {
	p.line(p.theme.Error, "✗ ", format, args...)
}

// Hint prints a dimmed follow-up line.
func (p *Presenter) Hint(format string, args ...any) {
	fmt.Fprintln(p.w, p.theme.hintStyle().Render("  "+fmt.Sprintf(format, args...)))
}

func (p *Presenter) line(c lipgloss.Color, prefix, format string, args ...any) {
	fmt.Fprintln(p.w, p.theme.style(c).Render(prefix+fmt.Sprintf(format, args...)))
}

// Validation prints the located columns and the id overlap.
func (p *Presenter) Validation(vr *ValidationResult) {
	p.Success("Exports validated: %d Freshdesk rows, %d Clarity rows", vr.Source.Len(), vr.Target.Len())
	for header, canonical := range vr.Mapped {
		if header != canonical {
			p.Info("Clarity column %q used as %q", header, canonical)
		}
	}
	p.Info("Matching ids: %d", vr.Overlap.Matched)
	p.Info("Only in Freshdesk: %d", vr.Overlap.OnlySource)
	p.Info("Only in Clarity: %d", vr.Overlap.OnlyTarget)
}

// Analysis prints the status distributions and mapping coverage.
func (p *Presenter) Analysis(a *Analysis) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FRESHDESK STATUS\tTICKETS\tCLARITY MIRROR")
	for _, lc := range a.SourceStatuses {
		mapped := lc.Mapped
		if !lc.Known {
			mapped = "(no mapping)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", lc.Label, lc.Count, mapped)
	}
	tw.Flush()
	fmt.Fprintln(p.w)

	tw = tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLARITY MIRROR STATUS\tTICKETS\tVALID")
	for _, lc := range a.TargetStatuses {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", lc.Label, lc.Count, yesNo(lc.Known))
	}
	tw.Flush()

	if len(a.Unmapped) > 0 {
		p.Warn("Statuses without mapping (skipped): %s", strings.Join(a.Unmapped, ", "))
	}
	p.Info("Tickets present in both exports: %d", a.WithCounterpart)
	if a.WithoutCounterpart > 0 {
		p.Warn("Tickets missing from the Clarity export: %d", a.WithoutCounterpart)
	}
}

// Comparison prints the comparison statistics and the grouped differences.
func (p *Presenter) Comparison(c *Comparison) {
	s := c.Stats
	p.Info("Rows compared: %d", s.Total)
	p.Info("Already consistent: %d", s.Consistent)
	if s.Unmapped > 0 {
		p.Warn("Skipped, unmapped status: %d", s.Unmapped)
	}
	if s.NoCounterpart > 0 {
		p.Warn("Skipped, not in Clarity export: %d", s.NoCounterpart)
	}
	if s.Different == 0 {
		p.Success("Freshdesk and Clarity are already consistent")
		return
	}
	p.Warn("Differences found: %d", s.Different)
	p.Pairs(s.Pairs)
}

// Pairs prints the "current → proposed" groups in the presenter's sort order.
func (p *Presenter) Pairs(pairs []Pair) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CURRENT (CLARITY)\t\tPROPOSED (FRESHDESK)\tTICKETS")
	for _, pr := range SortedPairs(pairs, p.SortBy) {
		fmt.Fprintf(tw, "%s\t→\t%s\t%d\n", display(pr.Current), pr.Proposed, pr.Count)
	}
	tw.Flush()
}

// Resolution prints how many differences can be applied.
func (p *Presenter) Resolution(r *Resolution) {
	if len(r.Dropped) == 0 {
		p.Success("Clarity ids resolved for all %d tickets", len(r.Resolved))
		return
	}
	p.Warn("Clarity ids resolved: %d, dropped: %d", len(r.Resolved), len(r.Dropped))
	for reason, n := range r.DropReasons {
		p.Hint("%s: %d", reason, n)
	}
}

// Details prints up to DetailLimit differences in apply order.
func (p *Presenter) Details(diffs []Difference) {
	limit := p.DetailLimit
	if limit <= 0 || limit > len(diffs) {
		limit = len(diffs)
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKET\tFRESHDESK\tCURRENT\t\tPROPOSED")
	for _, d := range diffs[:limit] {
		fmt.Fprintf(tw, "%s\t%s\t%s\t→\t%s\n", d.TicketID, d.SourceStatus, display(d.CurrentStatus), d.ProposedStatus)
	}
	tw.Flush()
	if limit < len(diffs) {
		p.Hint("... and %d more", len(diffs)-limit)
	}
}

// Final prints the outcome of the apply phase.
func (p *Presenter) Final(r *ApplyResult) {
	total := r.Successes + r.Failures
	p.Info("Changes attempted: %d", total)
	p.Success("Applied: %d", r.Successes)
	if r.Failures == 0 {
		return
	}
	p.Error("Failed: %d", r.Failures)
	shown := 0
	for _, o := range r.Outcomes {
		if o.Result != ResultError {
			continue
		}
		if shown == 5 {
			p.Hint("... %d more failures in the results export and the transaction log", r.Failures-shown)
			break
		}
		p.Hint("%s: %s", o.TicketID, o.Error)
		shown++
	}
}

// Failed prints a run-aborting error and its hint.
func (p *Presenter) Failed(err error) {
	p.Error("%v", err)
	var re *RunError
	if errors.As(err, &re) {
		p.Hint("%s", re.Hint())
	}
}

// Progress prints an in-place progress line.
func (p *Presenter) Progress(prefix string) ProgressFunc {
	return func(done, total int, ticketID string) {
		fmt.Fprintf(p.w, "\r%s %d/%d (ticket %s)", prefix, done, total, ticketID)
		if done == total {
			fmt.Fprintln(p.w)
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func display(status string) string {
	if status == "" {
		return "(empty)"
	}
	return status
}
