// Package tokencount counts tokens against a real tokenizer so context
// budgets in retrieval are measured the way the target model actually sees
// them, not approximated.
package tokencount

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// charsPerTokenFallback is used only when the tiktoken encoding tables
// themselves fail to load (e.g. no network access to fetch the BPE ranks on
// first use in an offline environment); it is a rough English-prose average,
// not a substitute for real tokenization.
const charsPerTokenFallback = 4

var (
	encoderCacheMu sync.RWMutex
	encoderCache   = make(map[string]*tiktoken.Tiktoken)
)

func getEncoder(model string) *tiktoken.Tiktoken {
	encoderCacheMu.RLock()
	if enc, ok := encoderCache[model]; ok {
		encoderCacheMu.RUnlock()
		return enc
	}
	encoderCacheMu.RUnlock()

	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	if enc, ok := encoderCache[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			encoderCache[model] = nil
			return nil
		}
	}
	encoderCache[model] = enc
	return enc
}

// Count returns the number of tokens text would occupy in model's context
// window. Falls back to a chars/4 estimate if the tokenizer can't be
// loaded at all.
func Count(text, model string) int {
	if text == "" {
		return 0
	}
	enc := getEncoder(model)
	if enc == nil {
		return (len(text) + charsPerTokenFallback - 1) / charsPerTokenFallback
	}
	return len(enc.Encode(text, nil, nil))
}

// CountAll sums Count across every string in texts.
func CountAll(texts []string, model string) int {
	total := 0
	for _, t := range texts {
		total += Count(t, model)
	}
	return total
}
