package markov

import (
	"fmt"
	"math/rand/v2"

	apperrors "discord-simulator/backend/pkg/errors"
)

// Rand is the randomness a walk draws from. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	Uint64N(n uint64) uint64
}

// NewRand returns a deterministic generator for seed
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ChooseNext draws the successor of from with probability proportional to
// edge weight.
func (g *Graph) ChooseNext(from string, rng Rand) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.chooseLocked(from, rng)
}

func (g *Graph) chooseLocked(from string, rng Rand) (string, error) {
	n, ok := g.nodes[from]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	if n.total == 0 {
		return "", apperrors.NewEmptyNode(g.entityID, from)
	}

	draw := rng.Uint64N(n.total)
	for _, e := range n.edges {
		if draw < e.Weight {
			return e.Target, nil
		}
		draw -= e.Weight
	}
	return "", apperrors.NewGraphCorrupt(g.entityID, fmt.Sprintf("edge weights of %q sum below its total %d", from, n.total))
}

// Generate walks from START until END and returns the words in between.
// maxSteps bounds the number of transitions taken.
func (g *Graph) Generate(rng Rand, maxSteps int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[Start]; !ok {
		return nil, apperrors.NewGraphCorrupt(g.entityID, "missing start node")
	}

	var words []string
	current := Start
	for step := 0; step < maxSteps; step++ {
		next, err := g.chooseLocked(current, rng)
		if err != nil {
			return nil, err
		}
		if next == End {
			return words, nil
		}
		words = append(words, next)
		current = next
	}
	return nil, apperrors.NewGenerationOverflow(g.entityID, maxSteps)
}
