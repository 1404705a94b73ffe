package api

// EstimateTokens approximates a token count as one token per four characters,
// rounded up. Backends without usage metadata get their accounting from this
// estimate; it is an approximation, not billing-grade counting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateUsage builds a Usage record from prompt and completion text using
// EstimateTokens for both sides.
func EstimateUsage(prompt, completion string) Usage {
	p := EstimateTokens(prompt)
	c := EstimateTokens(completion)
	return Usage{
		PromptTokens:     p,
		CompletionTokens: c,
		TotalTokens:      p + c,
	}
}
