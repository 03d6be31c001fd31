package promptctx

// TokenCounter estimates the token cost of a piece of text. The budget check
// is deliberately pluggable so a model-specific tokenizer can replace the
// default heuristic without touching the builder.
type TokenCounter interface {
	Count(text string) int
}

// CharCounter approximates tokens as a fixed character quotient. Four
// characters per token is a workable average for latin-script chat text.
type CharCounter struct {
	CharsPerToken int
}

func (c CharCounter) Count(text string) int {
	per := c.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + per - 1) / per
}
