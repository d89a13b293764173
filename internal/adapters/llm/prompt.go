package llm

import (
	"fmt"
	"strings"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

const (
	explanationMaxChars     = 220
	explanationMaxSentences = 2

	// Breadth context is capped so a large market slate cannot blow up the
	// prompt; the remainder is summarized as a count.
	maxOtherMarketLines = 8
)

// buildPrompt renders the decision prompt for one (market, model) pair.
// Every model receives the identical prompt for the same context.
func buildPrompt(dc domain.DecisionContext) string {
	e := dc.Event

	symbols := e.Symbols
	if symbols == "" {
		symbols = "N/A"
	}
	area := e.TherapeuticArea
	if area == "" {
		area = "N/A"
	}

	var others strings.Builder
	shown := dc.OtherMarkets
	if len(shown) > maxOtherMarketLines {
		shown = shown[:maxOtherMarketLines]
	}
	if len(shown) == 0 {
		others.WriteString("- None")
	} else {
		for i, m := range shown {
			if i > 0 {
				others.WriteByte('\n')
			}
			fmt.Fprintf(&others, "- %s (%s) | YES %.1f%% | PDUFA %s",
				m.DrugName, m.CompanyName, m.PriceYes*100, m.DecisionDate)
		}
	}
	if hidden := len(dc.OtherMarkets) - len(shown); hidden > 0 {
		plural := "s"
		if hidden == 1 {
			plural = ""
		}
		fmt.Fprintf(&others, "\n- ...and %d more open market%s.", hidden, plural)
	}

	return fmt.Sprintf(`You are participating in a play-money FDA approval prediction market.

Current UTC date: %s
Model: %s

Market contract:
- Event: %s (%s) receives FDA approval by its decision date.
- YES resolves to $1 if Approved, else $0.
- NO resolves to $1 if Rejected, else $0.

Event data:
- Ticker(s): %s
- Application type: %s
- PDUFA date: %s
- Therapeutic area: %s
- Notes: %s

Market state:
- YES price: %.2f%%
- NO price: %.2f%%

Market breadth context:
- Open markets this cycle: %d
- Markets remaining after this decision: %d
- Other open markets:
%s

Your portfolio:
- Cash available: $%.2f
- YES shares held: %.4f
- NO shares held: %.4f
- Approx YES position value: $%.2f
- Approx NO position value: $%.2f

Task:
1) Choose exactly one action: BUY_YES, BUY_NO, SELL_YES, SELL_NO, or HOLD.
2) If BUY_YES or BUY_NO, amountUsd is cash to spend (0 to available cash).
3) If SELL_YES or SELL_NO, amountUsd is target proceeds to take off that side (0 to estimated value of shares held on that side). If you hold no shares on that side, use HOLD.
4) Provide explanation as 1-2 short sentences, <= %d characters total.
5) Mention only the top probability driver(s) and valuation/stock impact in plain language.
6) No numbered lists, no bullet points, no long background.

Output must be valid JSON only:
{
  "action": "BUY_YES | BUY_NO | SELL_YES | SELL_NO | HOLD",
  "amountUsd": number,
  "explanation": "1-2 short sentences, <= %d chars"
}`,
		dc.RunDate, dc.ModelID,
		e.DrugName, e.CompanyName,
		symbols, e.ApplicationType, e.DecisionDate.String(), area, e.Description,
		dc.PriceYes*100, dc.PriceNo*100,
		dc.TotalOpenMarkets, dc.MarketsRemaining, others.String(),
		dc.CashBalance, dc.YesShares, dc.NoShares,
		dc.YesShares*dc.PriceYes, dc.NoShares*dc.PriceNo,
		explanationMaxChars, explanationMaxChars,
	)
}
