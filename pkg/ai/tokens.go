package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var encoding = sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
	return tiktoken.GetEncoding("o200k_base")
})

// CountTokens returns the number of o200k tokens in text. When the
// encoding cannot be loaded it estimates four characters per token.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := encoding()
	if err != nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
