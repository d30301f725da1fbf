package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
)

// HuggingFace wraps a tokenizer.json (WordPiece, BPE, ...) loaded through
// pure-tokenizers. Never-split tokens are cut out before the remaining text
// reaches the library.
type HuggingFace struct {
	tokenizer  *tokenizers.Tokenizer
	neverSplit []string
}

// NewHuggingFace loads the tokenizer definition at tokenizerPath. libraryPath
// may be empty to let pure-tokenizers locate its shared library.
func NewHuggingFace(tokenizerPath, libraryPath string, neverSplit ...string) (*HuggingFace, error) {
	if tokenizerPath == "" {
		return nil, errors.New("tokenizer path cannot be empty")
	}
	if _, err := os.Stat(tokenizerPath); err != nil {
		return nil, fmt.Errorf("tokenizer path %q is not usable: %w", tokenizerPath, err)
	}

	var opts []tokenizers.TokenizerOption
	if libraryPath != "" {
		opts = append(opts, tokenizers.WithLibraryPath(libraryPath))
	}
	tok, err := tokenizers.FromFile(tokenizerPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &HuggingFace{tokenizer: tok, neverSplit: sortNeverSplit(neverSplit)}, nil
}

// Tokenize implements Tokenizer.
func (h *HuggingFace) Tokenize(text string) ([]string, error) {
	if h == nil || h.tokenizer == nil {
		return nil, errors.New("tokenizer is closed")
	}
	var tokens []string
	for _, seg := range splitProtected(text, h.neverSplit) {
		if seg.protected {
			tokens = append(tokens, seg.text)
			continue
		}
		if strings.TrimSpace(seg.text) == "" {
			continue
		}
		encoding, err := h.tokenizer.Encode(seg.text, tokenizers.WithReturnTokens())
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize %q: %w", seg.text, err)
		}
		if encoding == nil {
			return nil, fmt.Errorf("failed to tokenize %q: empty tokenizer result", seg.text)
		}
		tokens = append(tokens, encoding.Tokens...)
	}
	return tokens, nil
}

// Close releases the native tokenizer.
func (h *HuggingFace) Close() error {
	if h == nil || h.tokenizer == nil {
		return nil
	}
	err := h.tokenizer.Close()
	h.tokenizer = nil
	return err
}
