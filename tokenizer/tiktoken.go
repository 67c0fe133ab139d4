package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/deskhive/deskhive/types"
)

// TiktokenTokenizer counts tokens with a tiktoken subword encoding.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type modelEncoding struct {
	encoding  string
	maxTokens int
}

// modelEncodings maps model names to their tiktoken encoding and context size.
var modelEncodings = map[string]modelEncoding{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

// encodingForModel resolves the tiktoken encoding for a model name.
// Versioned names resolve through their longest known prefix, so
// "gpt-4o-2024-08-06" picks gpt-4o's encoding rather than gpt-4's.
func encodingForModel(model string) (modelEncoding, bool) {
	if info, ok := modelEncodings[model]; ok {
		return info, true
	}
	best := ""
	for prefix := range modelEncodings {
		if len(model) > len(prefix) && model[:len(prefix)] == prefix && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return modelEncoding{}, false
	}
	return modelEncodings[best], true
}

// NewTiktokenTokenizer creates a tiktoken-backed tokenizer for the given
// model. Unknown models get cl100k_base. The encoding itself is loaded
// lazily on first count.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info, ok := encodingForModel(model)
	if !ok {
		info = modelEncoding{encoding: "cl100k_base", maxTokens: 8192}
	}
	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init lazily initializes the tiktoken encoding (may download data on first use).
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = types.NewError(types.ErrTokenizerError,
				fmt.Sprintf("init tiktoken encoding %s", t.encoding)).WithCause(err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	tokens := t.enc.Encode(text, nil, nil)
	return len(tokens), nil
}

func (t *TiktokenTokenizer) Encode(text string) ([]int, error) {
	if err := t.init(); err != nil {
		return nil, err
	}
	return t.enc.Encode(text, nil, nil), nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return "tiktoken-" + t.encoding
}
