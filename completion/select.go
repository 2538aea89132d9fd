package completion

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hal9ai/dspy/llm"
	"github.com/samber/lo"
)

// EndOfText marks the end of a sample in a token sequence.
const EndOfText = "<|endoftext|>"

// Params controls how choices are turned into completions.
type Params struct {
	// OnlyCompleted drops choices cut off by the token budget, unless every choice was.
	OnlyCompleted bool
	// ReturnSorted ranks choices by mean token log-probability. Only applied when N > 1.
	ReturnSorted bool
	// N is the number of samples requested.
	N int
}

// DefaultParams returns the only combination the client supports without ranking.
func DefaultParams() Params {
	return Params{OnlyCompleted: true, ReturnSorted: false, N: 1}
}

// CheckContract rejects parameter combinations callers may not request.
func CheckContract(p Params) error {
	if !p.OnlyCompleted {
		return llm.NewContractViolation("only_completed=false is not supported")
	}
	if p.ReturnSorted && p.N <= 1 {
		return llm.NewContractViolation(fmt.Sprintf("return_sorted requires n > 1, got n=%d", p.N))
	}
	return nil
}

// Select filters, extracts and optionally ranks the choices of resp.
func Select(resp *llm.RawResponse, p Params) ([]string, error) {
	if resp == nil {
		return nil, nil
	}

	choices := resp.Choices
	completed := lo.Filter(choices, func(c llm.Choice, _ int) bool {
		return !c.Truncated()
	})
	if p.OnlyCompleted && len(completed) > 0 {
		choices = completed
	}

	if !p.ReturnSorted || p.N <= 1 {
		return lo.Map(choices, func(c llm.Choice, _ int) string {
			return c.Content()
		}), nil
	}

	return rank(choices)
}

type scored struct {
	score float64
	text  string
}

func rank(choices []llm.Choice) ([]string, error) {
	ranked := make([]scored, 0, len(choices))
	for _, c := range choices {
		score, err := Score(c)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored{score: score, text: c.Content()})
	}

	// Highest score first; equal scores order by text, also descending.
	slices.SortStableFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(b.text, a.text)
	})

	return lo.Map(ranked, func(s scored, _ int) string { return s.text }), nil
}

// Score returns the mean token log-probability of a choice. Tokens after the first
// EndOfText marker are ignored; the marker itself counts.
func Score(c llm.Choice) (float64, error) {
	tokens, logprobs, ok := c.TokenLogProbs()
	if !ok {
		return 0, llm.NewUnsupportedError("ranking requires token log-probabilities, which this response does not carry")
	}

	if i := slices.Index(tokens, EndOfText); i >= 0 && i < len(logprobs) {
		logprobs = logprobs[:i+1]
	}

	return lo.Mean(logprobs), nil
}
