// Package report renders operator tables for the CLI tools.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/risk-orchestrator/internal/audit"
	"github.com/ducminhle1904/risk-orchestrator/internal/control"
	"github.com/ducminhle1904/risk-orchestrator/internal/killswitch"
	"github.com/ducminhle1904/risk-orchestrator/internal/reconcile"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func keyValueColumns(t table.Writer) {
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 22, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// Status prints the system overview
func Status(w io.Writer, st control.Status) {
	t := newTable(w, "RISK CORE STATUS")
	t.AppendRows([]table.Row{
		{"Mode", string(st.State.Mode)},
		{"Since", formatTime(st.State.ChangedAt)},
		{"Reason", st.State.Reason},
		{"Changed by", st.State.Actor},
		{"Kill switch", string(st.KillSwitch.Status)},
	})

	if p := st.Portfolio; p != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Equity", fmt.Sprintf("$%.2f", p.Equity)},
			{"Cash", fmt.Sprintf("$%.2f", p.Cash)},
			{"Drawdown", pct(p.Drawdown)},
			{"Daily loss", pct(p.DailyLoss)},
			{"Weekly loss", pct(p.WeeklyLoss)},
			{"Open positions", p.OpenPositions},
		})
	}

	if len(st.Breakers) > 0 {
		t.AppendSeparator()
		for _, b := range st.Breakers {
			t.AppendRow(table.Row{"Breaker " + b.Name, fmt.Sprintf("%s (%d failures)", b.State, b.Failures)})
		}
	}

	if r := st.LastReconciliation; r != nil {
		t.AppendSeparator()
		outcome := "clean"
		if !r.Clean {
			outcome = fmt.Sprintf("%d discrepancies", len(r.Discrepancies))
		}
		t.AppendRow(table.Row{"Last reconciliation", fmt.Sprintf("%s at %s", outcome, formatTime(r.FinishedAt))})
	}

	keyValueColumns(t)
	t.Render()
}

// KillSwitch prints an activation record with the per-position outcome
func KillSwitch(w io.Writer, rec killswitch.Record) {
	t := newTable(w, "KILL SWITCH")
	t.AppendRows([]table.Row{
		{"Status", string(rec.Status)},
		{"Trigger", string(rec.Trigger)},
		{"Reason", rec.Reason},
		{"Activated by", rec.ActivatedBy},
		{"Activated at", formatTime(rec.ActivatedAt)},
		{"Completed at", formatTime(rec.CompletedAt)},
		{"EMERGENCY entered", rec.ModeTransitioned},
	})
	if rec.ResetBy != "" {
		t.AppendRows([]table.Row{
			{"Reset by", rec.ResetBy},
			{"Reset at", formatTime(rec.ResetAt)},
		})
	}
	keyValueColumns(t)
	t.Render()

	if len(rec.Closed) == 0 && len(rec.Failed) == 0 {
		return
	}
	p := newTable(w, "FLATTENED POSITIONS")
	p.AppendHeader(table.Row{"Symbol", "Quantity", "Result"})
	for _, c := range rec.Closed {
		p.AppendRow(table.Row{c.Symbol, c.Quantity, "closed " + c.OrderID})
	}
	for _, f := range rec.Failed {
		p.AppendRow(table.Row{f.Symbol, f.Quantity, "FAILED: " + f.Error})
	}
	p.Render()
}

// Reconciliation prints a reconciliation result
func Reconciliation(w io.Writer, res reconcile.Result) {
	t := newTable(w, "RECONCILIATION")
	t.AppendHeader(table.Row{"Symbol", "Kind", "Ledger", "Broker", "Delta", "Delta %"})
	for _, d := range res.Discrepancies {
		t.AppendRow(table.Row{d.Symbol, string(d.Kind), d.LedgerQuantity, d.BrokerQuantity, d.Delta, pct(d.DeltaPct)})
	}
	status := "CLEAN"
	if !res.Clean {
		status = "MISMATCH"
	}
	t.AppendFooter(table.Row{status, fmt.Sprintf("%d symbols", res.Symbols), "", "", "", formatTime(res.FinishedAt)})
	t.Render()
}

// AuditSummary prints outcome counts and the most frequent rejection reasons
func AuditSummary(w io.Writer, records []audit.Record, topReasons int) {
	counts := make(map[audit.Outcome]int)
	reasons := make(map[string]int)
	for _, r := range records {
		counts[r.Outcome]++
		if r.Outcome == audit.OutcomeRejected && r.Reason != "" {
			reasons[reasonKey(r.Reason)]++
		}
	}

	t := newTable(w, "DECISIONS")
	t.AppendHeader(table.Row{"Outcome", "Count", "Share"})
	for _, o := range audit.Outcomes {
		share := 0.0
		if len(records) > 0 {
			share = float64(counts[o]) / float64(len(records))
		}
		t.AppendRow(table.Row{string(o), counts[o], pct(share)})
	}
	t.AppendFooter(table.Row{"total", len(records), ""})
	t.Render()

	if len(reasons) == 0 || topReasons <= 0 {
		return
	}
	type reasonCount struct {
		reason string
		n      int
	}
	list := make([]reasonCount, 0, len(reasons))
	for k, v := range reasons {
		list = append(list, reasonCount{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].n != list[j].n {
			return list[i].n > list[j].n
		}
		return list[i].reason < list[j].reason
	})
	if len(list) > topReasons {
		list = list[:topReasons]
	}

	rt := newTable(w, "TOP REJECTION REASONS")
	rt.AppendHeader(table.Row{"Reason", "Count"})
	for _, rc := range list {
		rt.AppendRow(table.Row{rc.reason, rc.n})
	}
	rt.Render()
}

// reasonKey drops the detail after the first colon so "exposure limit: 31% > 30%"
// groups with its peers
func reasonKey(reason string) string {
	if i := strings.Index(reason, ":"); i > 0 {
		return reason[:i]
	}
	return reason
}
