package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// FormatTouch renders a confirmed touch.
func FormatTouch(ev model.TouchEvent) (subject, body string) {
	subject = fmt.Sprintf("Trend line touched: %s", ev.Symbol)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📍 <b>%s</b> | %s\n\n", html.EscapeString(ev.Symbol), ev.Date.Format(model.DateLayout)))
	b.WriteString(fmt.Sprintf("Line price: %s\n", ev.LinePrice.StringFixed(2)))
	b.WriteString(fmt.Sprintf("Band: %s – %s\n", ev.Lower.StringFixed(2), ev.Upper.StringFixed(2)))
	b.WriteString(fmt.Sprintf("Bar: low %s / high %s\n", ev.Low.StringFixed(2), ev.High.StringFixed(2)))
	b.WriteString(fmt.Sprintf("Line #%d", ev.LineID))
	return subject, b.String()
}

// FormatCrossover renders a fast-over-slow moving-average cross.
func FormatCrossover(symbol string, ev model.CrossoverEvent) (subject, body string) {
	kind := strings.ToUpper(ev.Pair.Kind)
	if kind == "" {
		kind = "EMA"
	}
	subject = fmt.Sprintf("%s crossover: %s", kind, symbol)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>%s</b> | %s\n\n", html.EscapeString(symbol), ev.Time.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("%s %d crossed above %s %d\n", kind, ev.Pair.Fast, kind, ev.Pair.Slow))
	b.WriteString(fmt.Sprintf("Close: %s | Buy above: %s\n", ev.Price.StringFixed(2), ev.High.StringFixed(2)))
	b.WriteString(fmt.Sprintf("Check #%d", ev.CheckID))
	return subject, b.String()
}

// FormatOrderIntent renders a queued buy or sell intent.
func FormatOrderIntent(in model.OrderIntent) (subject, body string) {
	var b strings.Builder
	switch in.Side {
	case model.SideBuy:
		subject = fmt.Sprintf("Breakout buy: %s", in.Symbol)
		b.WriteString(fmt.Sprintf("🟢 <b>%s</b> BUY\n\n", html.EscapeString(in.Symbol)))
		b.WriteString(fmt.Sprintf("Trigger: %s\n", in.TriggerPrice.StringFixed(2)))
		b.WriteString(fmt.Sprintf("Stop: %s (risk %s/unit)\n", in.StopPrice.StringFixed(2), in.RiskPerUnit.StringFixed(2)))
	default:
		subject = fmt.Sprintf("Stop loss hit: %s", in.Symbol)
		b.WriteString(fmt.Sprintf("🔴 <b>%s</b> SELL\n\n", html.EscapeString(in.Symbol)))
		b.WriteString(fmt.Sprintf("Stop: %s\n", in.StopPrice.StringFixed(2)))
	}
	if in.Quantity > 0 {
		b.WriteString(fmt.Sprintf("Quantity: %d\n", in.Quantity))
	}
	b.WriteString(fmt.Sprintf("Check #%d", in.CheckID))
	return subject, b.String()
}

var sweepOrder = []model.SweepKind{
	model.SweepTouch,
	model.SweepCrossover,
	model.SweepBreakout,
	model.SweepStopLoss,
	model.SweepPercentDiff,
}

// FormatStatus renders the latest report of each sweep.
func FormatStatus(sweeps map[model.SweepKind]model.SweepReport) string {
	var b strings.Builder
	b.WriteString("🛰 <b>TrendSentinel status</b>\n\n")
	if len(sweeps) == 0 {
		b.WriteString("No sweeps have run yet.")
		return b.String()
	}
	for _, k := range sweepOrder {
		rep, ok := sweeps[k]
		if !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("<b>%s</b> %s: %d items, %d events, %d skipped, %d failed\n",
			k, rep.FinishedAt.Format("01-02 15:04"), rep.Lines, rep.Events, rep.Skipped, rep.Failed))
		if rep.Note != "" {
			b.WriteString(fmt.Sprintf("  %s\n", html.EscapeString(rep.Note)))
		}
	}
	return b.String()
}

// FormatLines lists tracked lines with their furthest lifecycle state.
func FormatLines(lines []model.TrendLineSpec, states map[int64]model.LineState) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📐 <b>Trend lines</b> (%d)\n\n", len(lines)))
	sorted := append([]model.TrendLineSpec(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, l := range sorted {
		b.WriteString(fmt.Sprintf("#%d %s %s @%s %.2f° %s",
			l.ID, html.EscapeString(l.Symbol), l.AnchorDate.Format(model.DateLayout),
			l.AnchorPrice.StringFixed(2), l.Angle, states[l.ID]))
		if l.PercentDiff != nil {
			b.WriteString(fmt.Sprintf(" (%s%%)", l.PercentDiff.StringFixed(2)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatVibration renders the configured tolerance percentage.
func FormatVibration(v decimal.NullDecimal) string {
	if !v.Valid {
		return "No vibration point configured"
	}
	return fmt.Sprintf("Vibration point: %s%%", v.Decimal.String())
}
