// Package tokens keeps LLM and embedding inputs inside their token budgets:
// near-duplicate lines are dropped, then page content is truncated under a
// front-weighted allocation.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Encoder turns text into a token sequence. The production encoder is
// tiktoken's cl100k_base; tests substitute cheaper ones.
type Encoder interface {
	Encode(text string) []int
}

// Count returns the token count of text under e.
func Count(e Encoder, text string) int {
	return len(e.Encode(text))
}

const encodingName = "cl100k_base"

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenEncoder) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

var (
	defaultOnce sync.Once
	defaultEnc  Encoder
	defaultErr  error
)

// Default returns the shared cl100k_base encoder, loading it once.
func Default() (Encoder, error) {
	defaultOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			defaultErr = fmt.Errorf("load %s encoding: %w", encodingName, err)
			return
		}
		defaultEnc = &tiktokenEncoder{enc: enc}
	})
	return defaultEnc, defaultErr
}
