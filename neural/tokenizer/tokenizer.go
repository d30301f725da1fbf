package tokenizer

import (
	"sort"
	"strings"
	"unicode"
)

// Tokenizer turns a sentence into an ordered list of tokens. Implementations
// are treated as black boxes by the dataset loader.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
}

// Func adapts a plain function to the Tokenizer interface.
type Func func(text string) []string

// Tokenize calls f.
func (f Func) Tokenize(text string) ([]string, error) {
	return f(text), nil
}

// Whitespace splits on runs of white space only.
var Whitespace Tokenizer = Func(strings.Fields)

// Basic splits on whitespace and emits every punctuation or symbol rune as
// its own token. Case is preserved. Never-split tokens are emitted intact even
// when they contain punctuation, e.g. "[CLS]".
type Basic struct {
	neverSplit []string
}

// NewBasic creates a Basic tokenizer.
func NewBasic(neverSplit ...string) *Basic {
	return &Basic{neverSplit: sortNeverSplit(neverSplit)}
}

// Tokenize implements Tokenizer.
func (b *Basic) Tokenize(text string) ([]string, error) {
	var tokens []string
	for _, seg := range splitProtected(text, b.neverSplit) {
		if seg.protected {
			tokens = append(tokens, seg.text)
			continue
		}
		tokens = append(tokens, splitWords(seg.text)...)
	}
	return tokens, nil
}

func splitWords(text string) []string {
	var tokens []string
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]

		if unicode.IsSpace(r) {
			i++
			continue
		}

		if isPunct(r) {
			tokens = append(tokens, string(r))
			i++
			continue
		}

		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) && !isPunct(runes[i]) {
			i++
		}
		tokens = append(tokens, string(runes[start:i]))
	}
	return tokens
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

type segment struct {
	text      string
	protected bool
}

// sortNeverSplit orders tokens longest first so overlapping tokens match
// greedily.
func sortNeverSplit(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// splitProtected cuts text around occurrences of the never-split tokens.
func splitProtected(text string, neverSplit []string) []segment {
	if len(neverSplit) == 0 {
		return []segment{{text: text}}
	}
	var segments []segment
	start := 0
	for i := 0; i < len(text); {
		matched := ""
		for _, tok := range neverSplit {
			if strings.HasPrefix(text[i:], tok) {
				matched = tok
				break
			}
		}
		if matched == "" {
			i++
			continue
		}
		if start < i {
			segments = append(segments, segment{text: text[start:i]})
		}
		segments = append(segments, segment{text: matched, protected: true})
		i += len(matched)
		start = i
	}
	if start < len(text) {
		segments = append(segments, segment{text: text[start:]})
	}
	return segments
}
