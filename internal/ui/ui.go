package ui

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/moo-gh/Ping-Success/internal/history"
	"github.com/moo-gh/Ping-Success/internal/monitor"
)

const (
	uiRefreshInterval = 500 * time.Millisecond
	minBoxHeight      = 4

	// rttScale is how many milliseconds of RTT one bar cell represents.
	rttScale = 10
)

// Controller is the slice of the monitoring session the TUI drives and reads.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot() history.AggregateView
	Series() []history.Sample
	Status() monitor.Status
}

// IPSource reports the cached public IP for the footer. A nil source renders
// as "N/A".
type IPSource interface {
	Current() string
}

// UI renders a TUI view of the monitored host.
type UI struct {
	session Controller
	ip      IPSource
}

// New returns a UI instance. ip may be nil when public-IP lookup is disabled.
func New(session Controller, ip IPSource) *UI {
	return &UI{session: session, ip: ip}
}

// Run blocks until the context is cancelled or the user quits.
func (u *UI) Run(ctx context.Context) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	screen.HideCursor()
	defer screen.Fini()

	eventCh := make(chan tcell.Event, 1)
	go func() {
		for {
			// PollEvent returns nil once the screen is finalized.
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case eventCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(uiRefreshInterval)
	defer ticker.Stop()

	u.render(screen)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-eventCh:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
					return context.Canceled
				}
				if ev.Rune() == 'p' {
					u.togglePause(ctx)
					u.render(screen)
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		case <-ticker.C:
			u.render(screen)
		}
	}
}

// togglePause maps the 'p' key onto Stop/Start of the session. Stop waits
// for an in-flight probe, so the view freezes for at most one probe budget.
func (u *UI) togglePause(ctx context.Context) {
	if u.session.Status().State == monitor.StateRunning {
		u.session.Stop()
		return
	}
	_ = u.session.Start(ctx)
}

func (u *UI) render(screen tcell.Screen) {
	screen.Clear()
	width, height := screen.Size()
	if width < 20 || height < 5 {
		screen.Show()
		return
	}

	view := u.session.Snapshot()
	status := u.session.Status()
	series := u.session.Series()

	now := time.Now().Format("2006-01-02 15:04:05")
	header := fmt.Sprintf(" pingmon  %s  (q to quit, p to pause/resume)", now)
	drawText(screen, 0, 0, width, header, tcell.StyleDefault.Bold(true))

	// 監視設定を2行目に表示
	drawText(screen, 0, 1, width, formatStatusInfo(status), tcell.StyleDefault.Foreground(tcell.ColorGray))

	y := 2
	y = u.drawSummaryBox(screen, y, width, height, view, status)
	y = u.drawProbeBox(screen, y, width, height, series, status)
	u.drawFailureBox(screen, y, width, height-1-y, view)

	drawFooter(screen, height-1, width, status)

	screen.Show()
}

func (u *UI) drawSummaryBox(screen tcell.Screen, y, width, height int, view history.AggregateView, status monitor.Status) int {
	if height-y < minBoxHeight {
		return y
	}
	drawBox(screen, 0, y, width, 4)
	drawText(screen, 2, y, width-4, " success ", tcell.StyleDefault.Bold(true))

	parts := summaryParts(windowLabel(status.Retention), view, u.publicIP())
	drawStyledText(screen, 1, y+1, width-2, flattenStyledText(parts, width-2))

	counters := fmt.Sprintf("samples=%d ok=%d skew=%d total=%d/%d",
		view.SampleCount, view.SuccessCount, status.ClockSkews,
		status.TotalSuccess, status.TotalFailure)
	drawText(screen, 1, y+2, width-2, counters, tcell.StyleDefault.Foreground(tcell.ColorGray))
	return y + 4
}

func (u *UI) drawProbeBox(screen tcell.Screen, y, width, height int, series []history.Sample, status monitor.Status) int {
	if height-y < minBoxHeight {
		return y
	}
	drawBox(screen, 0, y, width, 4)
	drawText(screen, 2, y, width-4, " recent probes ", tcell.StyleDefault.Bold(true))

	drawStyledText(screen, 1, y+1, width-2, buildStrip(series, width-2))

	label := padOrTrim(fmt.Sprintf("rtt %s ", formatRTT(status.LastRTT)), 12)
	bar := buildBar(status.LastRTT, rttScale, width-2-len([]rune(label)))
	drawStyledText(screen, 1, y+2, width-2, []styledRune{
		{r: []rune(label), style: tcell.StyleDefault},
		{r: []rune(bar), style: tcell.StyleDefault.Foreground(tcell.ColorTeal)},
	})
	return y + 4
}

func (u *UI) drawFailureBox(screen tcell.Screen, y, width, height int, view history.AggregateView) {
	if height < minBoxHeight {
		return
	}
	drawBox(screen, 0, y, width, height)
	drawText(screen, 2, y, width-4, " recent failures ", tcell.StyleDefault.Bold(true))

	if len(view.RecentFailures) == 0 {
		drawText(screen, 1, y+1, width-2, "(none)", tcell.StyleDefault.Foreground(tcell.ColorGray))
		return
	}

	// 新しい失敗が先頭
	maxRows := height - 2
	for i, sample := range view.RecentFailures {
		if i >= maxRows {
			break
		}
		line := fmt.Sprintf("%s  %s", sample.Timestamp.Format("15:04:05"), sample.Detail)
		drawText(screen, 1, y+1+i, width-2, line, tcell.StyleDefault.Foreground(tcell.ColorRed))
	}
}

func drawFooter(screen tcell.Screen, y, width int, status monitor.Status) {
	switch {
	case status.Warning != "":
		drawText(screen, 0, y, width, " WARNING: "+status.Warning, tcell.StyleDefault.Foreground(tcell.ColorYellow))
	case status.LastError != "":
		drawText(screen, 0, y, width, " last failure: "+status.LastError, tcell.StyleDefault.Foreground(tcell.ColorGray))
	default:
		drawText(screen, 0, y, width, "", tcell.StyleDefault)
	}
}

func (u *UI) publicIP() string {
	if u.ip == nil {
		return "N/A"
	}
	if ip := u.ip.Current(); ip != "" {
		return ip
	}
	return "N/A"
}

// summaryParts assembles the headline "Success(15m): 99.2% | IP: …" with the
// percentage segment styled by threshold.
func summaryParts(label string, view history.AggregateView, ip string) []styledText {
	return []styledText{
		{text: fmt.Sprintf("Success(%s): ", label), style: tcell.StyleDefault},
		{text: percentText(view), style: percentStyle(view.HasData, view.SuccessPercentage)},
		{text: " | IP: " + ip, style: tcell.StyleDefault},
	}
}

func percentText(view history.AggregateView) string {
	if !view.HasData {
		return "N/A"
	}
	return formatPercent(view.SuccessPercentage) + "%"
}

// formatPercent renders one decimal place with a trailing ".0" stripped:
// "100", "99.9", "75".
func formatPercent(pct float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(pct, 'f', 1, 64), ".0")
}

func percentStyle(hasData bool, pct float64) tcell.Style {
	switch {
	case !hasData:
		return tcell.StyleDefault.Foreground(tcell.ColorGray)
	case pct >= 95:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case pct >= 80:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	}
}

// windowLabel renders a retention duration the way the headline expects:
// "15m", "90s", falling back to Go syntax for fractional values.
func windowLabel(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return d.String()
}

// buildStrip renders the newest samples as one cell each, oldest first:
// '#' for success, 'x' for failure.
func buildStrip(samples []history.Sample, width int) []styledRune {
	if width <= 0 || len(samples) == 0 {
		return nil
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	result := make([]styledRune, 0, len(samples))
	for _, sample := range samples {
		if sample.Success {
			result = append(result, styledRune{r: []rune{'#'}, style: tcell.StyleDefault.Foreground(tcell.ColorGreen)})
		} else {
			result = append(result, styledRune{r: []rune{'x'}, style: tcell.StyleDefault.Foreground(tcell.ColorRed)})
		}
	}
	return result
}

func buildBar(rtt time.Duration, scale int, width int) string {
	if width <= 0 {
		return ""
	}
	if scale <= 0 {
		scale = 10
	}
	ms := float64(rtt.Milliseconds())
	if ms <= 0 {
		return strings.Repeat(" ", width)
	}
	units := int(math.Round(ms / float64(scale)))
	if units > width {
		units = width
	}
	if units < 0 {
		units = 0
	}
	return strings.Repeat("#", units) + strings.Repeat(" ", width-units)
}

func drawBox(screen tcell.Screen, x, y, width, height int) {
	if width < 2 || height < 2 {
		return
	}
	right := x + width - 1
	bottom := y + height - 1

	setCell(screen, x, y, '+', tcell.StyleDefault)
	setCell(screen, right, y, '+', tcell.StyleDefault)
	setCell(screen, x, bottom, '+', tcell.StyleDefault)
	setCell(screen, right, bottom, '+', tcell.StyleDefault)

	for col := x + 1; col < right; col++ {
		setCell(screen, col, y, '-', tcell.StyleDefault)
		setCell(screen, col, bottom, '-', tcell.StyleDefault)
	}
	for row := y + 1; row < bottom; row++ {
		setCell(screen, x, row, '|', tcell.StyleDefault)
		setCell(screen, right, row, '|', tcell.StyleDefault)
	}
}

func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	drawStyledText(screen, x, y, width, []styledRune{{r: []rune(text), style: style}})
}

type styledText struct {
	text  string
	style tcell.Style
}

type styledRune struct {
	r     []rune
	style tcell.Style
}

func drawStyledText(screen tcell.Screen, x, y, width int, parts []styledRune) {
	if width <= 0 {
		return
	}
	col := x
	for _, part := range parts {
		for _, r := range part.r {
			if col >= x+width {
				return
			}
			setCell(screen, col, y, r, part.style)
			col++
		}
	}
	for col < x+width {
		setCell(screen, col, y, ' ', tcell.StyleDefault)
		col++
	}
}

func flattenStyledText(parts []styledText, width int) []styledRune {
	result := make([]styledRune, 0, len(parts))
	used := 0
	for _, part := range parts {
		runes := []rune(part.text)
		if used+len(runes) > width {
			runes = runes[:maxInt(0, width-used)]
		}
		result = append(result, styledRune{r: runes, style: part.style})
		used += len(runes)
		if used >= width {
			break
		}
	}
	return result
}

func setCell(screen tcell.Screen, x, y int, r rune, style tcell.Style) {
	screen.SetContent(x, y, r, nil, style)
}

func padOrTrim(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) > width {
		return string(runes[:width])
	}
	if len(runes) < width {
		return value + strings.Repeat(" ", width-len(runes))
	}
	return value
}

func formatRTT(rtt time.Duration) string {
	if rtt <= 0 {
		return "-"
	}
	if rtt < time.Millisecond {
		return fmt.Sprintf("%dus", rtt.Microseconds())
	}
	if rtt < time.Second {
		return fmt.Sprintf("%dms", rtt.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", rtt.Seconds())
}

func formatStatusInfo(status monitor.Status) string {
	return fmt.Sprintf(" host=%s  interval=%s  timeout=%s  packets=%d  state=%s",
		status.Host, formatDuration(status.Interval), formatDuration(status.Timeout),
		status.Packets, status.State)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
