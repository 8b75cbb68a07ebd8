package normalizer

import "strings"

// Arabic code points stripped during canonicalization.
const (
	tatweel     = 'ـ' // elongation character, purely typographic
	superAlef   = 'ٰ' // dagger alef
	harakatLow  = 'ً' // first of the tanwin/harakat block
	harakatHigh = 'ٟ' // last of the tanwin/harakat block
)

// foldTable maps letter-shape variants that are semantically identical to one
// canonical form. Taa marbuta (U+0629) is deliberately absent: folding it to
// haa conflates grammatically distinct words, so it is preserved as written.
var foldTable = map[rune]rune{
	'آ': 'ا', // alef with madda -> alef
	'أ': 'ا', // alef with hamza above -> alef
	'إ': 'ا', // alef with hamza below -> alef
	'ٱ': 'ا', // alef wasla -> alef
	'ى': 'ي', // alef maksura -> yeh
}

// Normalize canonicalizes legal text for embedding and cache keying: strips
// diacritics and tatweel, folds alef/hamza letter variants, collapses
// whitespace runs, and truncates to maxTokens by structured sampling.
// It is pure and idempotent; indexed content and incoming queries must both
// pass through it so cache keys and embeddings stay consistent.
// maxTokens <= 0 disables truncation.
func Normalize(text string, maxTokens int) string {
	tokens := strings.Fields(foldRunes(text))
	if maxTokens > 0 && len(tokens) > maxTokens {
		tokens = sampleTokens(tokens, maxTokens)
	}
	return strings.Join(tokens, " ")
}

// TokenCount returns the whitespace-delimited token count of text.
func TokenCount(text string) int {
	return len(strings.Fields(text))
}

func foldRunes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == tatweel || r == superAlef || (r >= harakatLow && r <= harakatHigh) {
			continue
		}
		if folded, ok := foldTable[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sampleTokens truncates by keeping the first third, a middle third centered
// on the midpoint, and the last third of the token stream. Lead, context and
// conclusion survive instead of naively cutting the tail.
func sampleTokens(tokens []string, maxTokens int) []string {
	third := maxTokens / 3
	if third == 0 {
		return tokens[:maxTokens]
	}

	mid := len(tokens) / 2
	start := mid - third/2

	out := make([]string, 0, 3*third)
	out = append(out, tokens[:third]...)
	out = append(out, tokens[start:start+third]...)
	out = append(out, tokens[len(tokens)-third:]...)
	return out
}
