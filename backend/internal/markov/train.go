package markov

import (
	"fmt"
	"strings"
	"unicode"
)

// Tokenize splits raw message text on whitespace
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// Train records the path START, tokens..., END. The whole message is applied
// under one write lock, so readers see either none or all of it.
func (g *Graph) Train(tokens []string) error {
	for _, tok := range tokens {
		if tok == "" || strings.IndexFunc(tok, unicode.IsSpace) >= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidToken, tok)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureNodeLocked(Start)
	prev := Start
	for _, tok := range tokens {
		if err := g.recordLocked(prev, tok); err != nil {
			return err
		}
		prev = tok
	}
	return g.recordLocked(prev, End)
}
