package gateway

// cost computes the USD cost of one call from the model's per-million
// token prices. Models with no configured price cost zero.
func (c ModelConfig) cost(inputTokens, outputTokens int) float64 {
	const mtok = 1_000_000
	return float64(inputTokens)/mtok*c.InputPricePerMTok +
		float64(outputTokens)/mtok*c.OutputPricePerMTok
}
