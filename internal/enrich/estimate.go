package enrich

import (
	"unicode/utf8"

	"github.com/comigor/chatvault/internal/config"
	"github.com/comigor/chatvault/internal/history"
)

const (
	charsPerToken = 4
	// vocabularyTokens approximates the label list embedded in every pass-2
	// prompt, which is unknown until pass 1 has run.
	vocabularyTokens = 80
)

// Estimate is the projected size and price of one enrichment run.
type Estimate struct {
	Conversations int     `json:"conversations"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	USD           float64 `json:"estimated_usd"`
}

// EstimateCost projects the tokens and price of enriching convs: one pass-1
// call over the sample plus one pass-2 request per conversation.
func EstimateCost(convs []history.Conversation, cfg config.EnrichConfig) Estimate {
	est := Estimate{Conversations: len(convs)}
	if len(convs) == 0 {
		return est
	}

	sample := buildSample(convs, cfg.SampleSize, cfg.SnippetChars)
	est.InputTokens = tokens(pass1System + Pass1User(sample))
	est.OutputTokens = int64(cfg.MaxTokens)

	overhead := tokens(Pass2System(nil)+pass2UserPrefix) + vocabularyTokens
	for _, c := range convs {
		text := tokens(truncate(c.FullText, cfg.MaxTextChars))
		if c.TokenEstimate > 0 && int64(c.TokenEstimate) < text {
			text = int64(c.TokenEstimate)
		}
		est.InputTokens += overhead + text
	}
	est.OutputTokens += int64(len(convs)) * int64(cfg.OutputTokensPerItem)

	est.USD = float64(est.InputTokens)*cfg.InputUSDPerMTok/1e6 +
		float64(est.OutputTokens)*cfg.OutputUSDPerMTok/1e6
	return est
}

func tokens(s string) int64 {
	return int64(utf8.RuneCountInString(s) / charsPerToken)
}
