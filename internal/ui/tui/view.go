package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/lifecycle"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/testrunner"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

// RenderList renders the container listing. Containers from the compose
// file are highlighted; title is shown above the table when set.
func RenderList(title string, rows []lifecycle.Status) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(titleStyle.Render(title))
		b.WriteString("\n")
	}
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("  No containers found"))
		b.WriteString("\n")
		return b.String()
	}

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{
			r.Name,
			stateLabel(r.State),
			dash(strings.Join(r.IPv4, ", ")),
			dash(joinPorts(r.Ports)),
			dash(joinPorts(r.Forwards)),
			origin(r),
		})
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("NAME", "STATE", "IPV4", "PORTS", "FORWARDS", "ORIGIN").
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(rows) {
				return cellStyle
			}
			r := rows[row]
			switch {
			case col == 1:
				return cellStyle.Inherit(stateStyle(r.State))
			case col == 4 && r.Managed && !samePorts(r.Ports, r.Forwards):
				return cellStyle.Inherit(warningStyle)
			case col == 0 && r.InDocument:
				return cellStyle.Inherit(highlightStyle)
			case !r.InDocument:
				return cellStyle.Inherit(dimStyle)
			default:
				return cellStyle
			}
		})

	b.WriteString(tbl.String())
	b.WriteString("\n")
	return b.String()
}

// samePorts reports whether the recorded and forwarded ports agree,
// ignoring order.
func samePorts(a, b []int) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// FilterStatuses keeps running containers, stopped ones, or both when
// neither flag is set.
func FilterStatuses(rows []lifecycle.Status, running, stopped bool) []lifecycle.Status {
	if running == stopped {
		return rows
	}
	var out []lifecycle.Status
	for _, r := range rows {
		isRunning := r.State == lxd.StateRunning
		if (running && isRunning) || (stopped && !isRunning) {
			out = append(out, r)
		}
	}
	return out
}

// RenderTestPlan lists the tests defined for one container.
func RenderTestPlan(container string, plan []testrunner.Planned) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Tests for %s", container)))
	b.WriteString("\n")
	if len(plan) == 0 {
		b.WriteString(warningStyle.Render(fmt.Sprintf("  %s No tests defined", warnMark)))
		b.WriteString("\n")
		return b.String()
	}

	var kind config.TestKind
	for _, p := range plan {
		if p.Kind != kind {
			kind = p.Kind
			b.WriteString(sectionStyle.Render(fmt.Sprintf("  %s", kindTitle(kind))))
			b.WriteString("\n")
		}
		source := p.Entry.Source
		if source == "" {
			source = "Local"
		}
		fmt.Fprintf(&b, "    %-20s %s %s\n", p.Entry.Name, p.Entry.Path, dimStyle.Render("["+source+"]"))
	}
	return b.String()
}

// RenderTestSummary renders per-test results followed by totals.
func RenderTestSummary(sum *testrunner.Summary) string {
	var b strings.Builder
	if sum.Containers == 0 {
		b.WriteString(warningStyle.Render("No containers with tests found"))
		b.WriteString("\n")
		return b.String()
	}

	container := ""
	for _, r := range sum.Results {
		if r.Container != container {
			container = r.Container
			b.WriteString(sectionStyle.Render(container))
			b.WriteString("\n")
		}
		icon, style := statusIcon(r.Passed)
		line := fmt.Sprintf("  %s %-16s %-20s %s", style(icon), string(r.Kind), r.Name, dimStyle.Render(formatDuration(r.Duration)))
		b.WriteString(line)
		b.WriteString("\n")
		if r.Err != nil {
			b.WriteString(failedStyle.Render("      " + r.Err.Error()))
			b.WriteString("\n")
		}
	}

	b.WriteString(sectionStyle.Render("Summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Containers tested: %d\n", sum.Containers)
	fmt.Fprintf(&b, "  Passed: %s\n", readyStyle.Render(strconv.Itoa(sum.Passed())))
	fmt.Fprintf(&b, "  Failed: %s\n", failedStyle.Render(strconv.Itoa(sum.Failed())))
	if sum.Failed() == 0 {
		b.WriteString(readyStyle.Render(checkMark + " All tests passed"))
	} else {
		b.WriteString(failedStyle.Render(crossMark + " Some tests failed"))
	}
	b.WriteString("\n")
	return b.String()
}

// Helper functions

func statusIcon(ok bool) (string, styleFunc) {
	if ok {
		return checkMark, sf(readyStyle)
	}
	return crossMark, sf(failedStyle)
}

func stateStyle(s lxd.State) lipgloss.Style {
	switch s {
	case lxd.StateRunning:
		return readyStyle
	case lxd.StateStopped:
		return warningStyle
	case lxd.StateError:
		return failedStyle
	default:
		return dimStyle
	}
}

func stateLabel(s lxd.State) string {
	return strings.ToUpper(string(s))
}

func origin(r lifecycle.Status) string {
	switch {
	case r.InDocument:
		return "compose"
	case r.Managed:
		return "managed"
	default:
		return "-"
	}
}

func kindTitle(k config.TestKind) string {
	switch k {
	case config.TestInternal:
		return "Internal (inside the container)"
	case config.TestExternal:
		return "External (from the host)"
	case config.TestPortForwarding:
		return "Port forwarding (from the host)"
	default:
		return string(k)
	}
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
