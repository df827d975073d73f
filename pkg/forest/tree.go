package forest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
)

const leaf = -1

// Node is a tree node stored in a flat slice. Leaves have Feature == -1
// and carry the number of training samples that reached them.
type Node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s,omitempty"`
	Left    int     `json:"l,omitempty"`
	Right   int     `json:"r,omitempty"`
	Size    int     `json:"n,omitempty"`
}

// Tree is a single isolation tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return float64(depth) + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

func (t *Tree) validate(features int) error {
	if t == nil || len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature == leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= features {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, features)
		}
		// children are always appended after their parent
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

// treeSeed derives an independent seed per tree so trees can be grown
// in any order.
func treeSeed(base int64, tree int) int64 {
	h := fnv.New64a()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(tree))
	_, _ = h.Write(b[:])
	return int64(h.Sum64()) ^ base
}

type grower struct {
	rng   *rand.Rand
	data  [][]float64
	limit int
	nodes []Node
	cands []candidate
}

type candidate struct {
	feature  int
	min, max float64
}

func growTree(data [][]float64, psi, limit int, seed int64) *Tree {
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(len(data))[:psi]

	g := &grower{
		rng:   rng,
		data:  data,
		limit: limit,
		nodes: make([]Node, 0, 2*psi),
		cands: make([]candidate, 0, len(data[0])),
	}
	g.grow(idx, 0)

	return &Tree{Nodes: g.nodes}
}

func (g *grower) grow(idx []int, depth int) int {
	pos := len(g.nodes)
	g.nodes = append(g.nodes, Node{Feature: leaf, Size: len(idx)})

	if depth >= g.limit || len(idx) <= 1 {
		return pos
	}

	c, ok := g.pick(idx)
	if !ok {
		return pos
	}

	split := c.min + g.rng.Float64()*(c.max-c.min)
	if split <= c.min {
		split = c.min + (c.max-c.min)/2
	}

	// partition in place: [0, p) goes left
	p := 0
	for i, r := range idx {
		if g.data[r][c.feature] < split {
			idx[p], idx[i] = idx[i], idx[p]
			p++
		}
	}

	left := g.grow(idx[:p], depth+1)
	right := g.grow(idx[p:], depth+1)

	g.nodes[pos] = Node{
		Feature: c.feature,
		Split:   split,
		Left:    left,
		Right:   right,
	}
	return pos
}

// pick chooses uniformly among features that are not constant over idx.
func (g *grower) pick(idx []int) (candidate, bool) {
	g.cands = g.cands[:0]
	width := len(g.data[idx[0]])
	for f := 0; f < width; f++ {
		lo, hi := g.data[idx[0]][f], g.data[idx[0]][f]
		for _, r := range idx[1:] {
			v := g.data[r][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if lo < hi {
			g.cands = append(g.cands, candidate{feature: f, min: lo, max: hi})
		}
	}
	if len(g.cands) == 0 {
		return candidate{}, false
	}
	return g.cands[g.rng.Intn(len(g.cands))], true
}
