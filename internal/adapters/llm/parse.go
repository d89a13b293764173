package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

var (
	codeFenceRe  = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	actionKeyRe  = regexp.MustCompile(`"(?:action|amountUsd|explanation)"`)
	sentenceRe   = regexp.MustCompile(`[^.!?]+[.!?]*`)
	trailPunctRe = regexp.MustCompile(`[ ,;:]+$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// rawDecision is the shape the prompt asks for. Amount comes in as raw JSON
// because models occasionally quote the number.
type rawDecision struct {
	Action      string          `json:"action"`
	AmountUSD   json.RawMessage `json:"amountUsd"`
	Explanation string          `json:"explanation"`
}

// parseDecision extracts and sanitizes the model's JSON decision. The result
// always has a valid action, a finite non-negative amount (buys additionally
// clamped to maxCash, HOLD forced to zero) and a bounded explanation. Only an
// unrecoverable response (no JSON object at all, or invalid JSON) errors.
func parseDecision(raw string, maxCash float64) (*domain.Decision, error) {
	block, err := extractJSONBlock(raw)
	if err != nil {
		return nil, err
	}

	var rd rawDecision
	if err := json.Unmarshal([]byte(block), &rd); err != nil {
		return nil, fmt.Errorf("invalid JSON in model response: %w", err)
	}

	action := sanitizeAction(rd.Action)
	amount := parseAmount(rd.AmountUSD)
	switch {
	case action == domain.ActionHold:
		amount = 0
	case action.IsBuy():
		amount = math.Min(amount, maxCash)
	}

	return &domain.Decision{
		Action:      action,
		AmountUSD:   amount,
		Explanation: sanitizeExplanation(rd.Explanation),
	}, nil
}

// extractJSONBlock finds the decision object inside arbitrary model output:
// a fenced code block first, then a balanced object around a known key, then
// the first balanced object anywhere.
func extractJSONBlock(raw string) (string, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return "", fmt.Errorf("empty model response")
	}

	if m := codeFenceRe.FindStringSubmatch(normalized); m != nil {
		return m[1], nil
	}

	if loc := actionKeyRe.FindStringIndex(normalized); loc != nil {
		if start := strings.LastIndex(normalized[:loc[0]], "{"); start != -1 {
			if block := balancedObject(normalized, start); block != "" {
				return block, nil
			}
		}
	}

	if start := strings.Index(normalized, "{"); start != -1 {
		if block := balancedObject(normalized, start); block != "" {
			return block, nil
		}
	}

	preview := normalized
	if len(preview) > 240 {
		preview = preview[:240]
	}
	return "", fmt.Errorf("no JSON object found in model response: %s", preview)
}

// balancedObject returns the brace-balanced object starting at start, aware
// of strings and escapes, or "" if the object never closes.
func balancedObject(raw string, start int) string {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		ch := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeAction maps anything unrecognized to HOLD.
func sanitizeAction(s string) domain.ActionType {
	a := domain.ActionType(strings.ToUpper(strings.TrimSpace(s)))
	if a.Valid() {
		return a
	}
	return domain.ActionHold
}

// parseAmount tolerates both numeric and quoted amounts; anything non-finite
// or negative becomes zero.
func parseAmount(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err != nil {
			return 0
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// sanitizeExplanation collapses whitespace, keeps at most two sentences and
// truncates to the character budget at a word boundary.
func sanitizeExplanation(s string) string {
	normalized := strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	if normalized == "" {
		return "No explanation provided."
	}

	if sentences := sentenceRe.FindAllString(normalized, -1); len(sentences) > 0 {
		kept := make([]string, 0, explanationMaxSentences)
		for _, sentence := range sentences {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			kept = append(kept, sentence)
			if len(kept) == explanationMaxSentences {
				break
			}
		}
		normalized = strings.Join(kept, " ")
	}

	return truncateAtWordBoundary(normalized, explanationMaxChars)
}

// truncateAtWordBoundary cuts to at most maxChars characters, measured in
// runes so a multi-byte character is never split, preferring the last space
// in the final 40% of the budget.
func truncateAtWordBoundary(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	cut := maxChars
	for i := maxChars; i >= maxChars*6/10; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return trailPunctRe.ReplaceAllString(string(runes[:cut]), "") + "..."
}
