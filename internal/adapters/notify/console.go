// Package notify renders run progress and reports to the console.
package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

// Console implements ports.RunNotifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a notifier writing to stdout. With table enabled the
// final report renders as a full per-pair table instead of the compact line.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// RunStarted prints the run header.
func (c *Console) RunStarted(runDate string, modelOrder []string, openMarkets, totalActions int) {
	fmt.Fprintf(c.out, "[%s] run %s | %d markets x %d models = %d decisions | order: %s\n",
		clock(), runDate, openMarkets, len(modelOrder), totalActions, strings.Join(modelOrder, " > "))
}

// PairProcessed prints one progress line per decided pair.
func (c *Console) PairProcessed(processed, total int, r domain.PairResult) {
	switch r.Status {
	case domain.ActionError:
		fmt.Fprintf(c.out, "[%s] %d/%d %-12s %-9s !! %s\n",
			clock(), processed, total, r.ModelID, r.Action, r.Detail)
	case domain.ActionSkipped:
		fmt.Fprintf(c.out, "[%s] %d/%d %-12s %-9s (already decided)\n",
			clock(), processed, total, r.ModelID, r.Action)
	default:
		amount := ""
		if r.AmountUSD > 0 {
			amount = fmt.Sprintf(" $%.2f", r.AmountUSD)
		}
		fmt.Fprintf(c.out, "[%s] %d/%d %-12s %-9s%s\n",
			clock(), processed, total, r.ModelID, r.Action, amount)
	}
}

// RunFinished prints the final summary, or the failure if the run aborted.
func (c *Console) RunFinished(report *domain.RunReport, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "[%s] run FAILED: %v\n", clock(), err)
		return
	}

	if report.Resumed {
		fmt.Fprintf(c.out, "[%s] run %s already completed, returning stored result\n",
			clock(), report.RunDate)
	}

	s := report.Summary
	fmt.Fprintf(c.out, "[%s] run %s done | %d/%d processed | ok:%d error:%d skipped:%d\n",
		clock(), report.RunDate, report.Processed, report.Total, s.OK, s.Error, s.Skipped)

	if c.table && len(report.Results) > 0 {
		c.printResultsTable(report.Results)
	}
}

func (c *Console) printResultsTable(results []domain.PairResult) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Model", "Market", "Action", "Amount", "Status", "Detail")

	for i, r := range results {
		amount := "-"
		if r.AmountUSD > 0 {
			amount = fmt.Sprintf("$%.2f", r.AmountUSD)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.ModelID,
			shorten(r.MarketID, 12),
			string(r.Action),
			amount,
			string(r.Status),
			shorten(r.Detail, 48),
		)
	}
	table.Render()
}

// LeaderboardRow is one model's standing for PrintLeaderboard.
type LeaderboardRow struct {
	ModelID        string
	CashBalance    float64
	PositionsValue float64
	TotalEquity    float64
	ProfitLoss     float64
}

// PrintLeaderboard renders the models ranked by total equity.
func (c *Console) PrintLeaderboard(rows []LeaderboardRow) {
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "No accounts yet.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Model", "Cash", "Positions", "Equity", "P&L")

	for i, r := range rows {
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.ModelID,
			fmt.Sprintf("$%.2f", r.CashBalance),
			fmt.Sprintf("$%.2f", r.PositionsValue),
			fmt.Sprintf("$%.2f", r.TotalEquity),
			fmt.Sprintf("%+.2f", r.ProfitLoss),
		)
	}
	table.Render()
}

func clock() string { return time.Now().Format("15:04:05") }

func shorten(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
