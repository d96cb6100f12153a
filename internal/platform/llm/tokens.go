package llm

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many tokens a model sees for text.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter assumes four characters per token.
type ApproxCounter struct{}

// Count implements TokenCounter.
func (ApproxCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a tiktoken counter for model, falling back to the
// cl100k_base encoding for models tiktoken does not know and to ApproxCounter
// when no encoding can be loaded.
func NewTokenCounter(model string, logger *slog.Logger) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return tiktokenCounter{enc: enc}
	}

	enc, fallbackErr := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if fallbackErr == nil {
		return tiktokenCounter{enc: enc}
	}

	if logger != nil {
		logger.Warn("token encoding unavailable, using character estimate",
			"model", model,
			"error", fallbackErr)
	}
	return ApproxCounter{}
}
