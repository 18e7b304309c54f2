// Package ranking orders entities by composed score.
//
// Ordering: score DESC, then entity id ASC (deterministic). Scored
// entities live in a treap whose in-order traversal produces the ranking
// from best to worst. Entities without a score all share the terminal
// rank N, the number of entities on the board, and follow the scored ones
// by id.
package ranking

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/okian/popscore/internal/domain/model"
)

// scoreKey is the ordering key of a raw score. Scores are compared as
// float64 so large totals keep their relative order.
type scoreKey float64

// keyOf maps NaN to zero so every key is comparable.
func keyOf(x float64) scoreKey {
	if math.IsNaN(x) {
		return 0
	}
	return scoreKey(x)
}

// treap node
type node struct {
	id    string
	score scoreKey
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore scoreKey, aID string, bScore scoreKey, bID string) bool {
	if aScore != bScore {
		return aScore > bScore // higher score ranks earlier
	}
	return aID < bID // tie-breaker by id asc
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

// priority derives a stable pseudo-random heap priority from the id.
func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, id string, score scoreKey) *node {
	if n == nil {
		return &node{id: id, score: score, prio: priority(id), size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score scoreKey) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if less(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// position returns the 1-based in-order position of (id, score).
func position(n *node, id string, score scoreKey) int {
	pos := 0
	for n != nil {
		switch {
		case n.id == id && n.score == score:
			return pos + nsize(n.left) + 1
		case less(score, id, n.score, n.id):
			n = n.left
		default:
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// collect appends scored nodes in rank order.
func collect(n *node, out *[]*node) {
	if n == nil {
		return
	}
	collect(n.left, out)
	*out = append(*out, n)
	collect(n.right, out)
}

type member struct {
	name   string
	score  float64
	scored bool
}

// Board accumulates entities and produces rank entries. Not safe for
// concurrent use.
type Board struct {
	root    *node
	members map[string]member
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{members: make(map[string]member)}
}

// Add places an entity on the board, replacing any previous placement.
// NaN and infinite scores are treated as missing.
func (b *Board) Add(id, name string, score float64, scored bool) {
	if prev, ok := b.members[id]; ok && prev.scored {
		b.root = deleteNode(b.root, id, keyOf(prev.score))
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		scored = false
	}
	if !scored {
		score = 0
	}
	b.members[id] = member{name: name, score: score, scored: scored}
	if scored {
		b.root = insert(b.root, id, keyOf(score))
	}
}

// Len returns the number of entities on the board.
func (b *Board) Len() int { return len(b.members) }

// Scored returns the number of entities with a score.
func (b *Board) Scored() int { return nsize(b.root) }

// Rank returns the rank of an entity.
func (b *Board) Rank(id string) (int, bool) {
	m, ok := b.members[id]
	if !ok {
		return 0, false
	}
	if !m.scored {
		return b.Len(), true
	}
	return position(b.root, id, keyOf(m.score)), true
}

// Entries returns the full ordering. Scored entities get ranks 1..k;
// every unscored entity gets the terminal rank N.
func (b *Board) Entries() []model.RankEntry {
	nodes := make([]*node, 0, nsize(b.root))
	collect(b.root, &nodes)

	out := make([]model.RankEntry, 0, len(b.members))
	for i, n := range nodes {
		m := b.members[n.id]
		out = append(out, model.RankEntry{
			EntityID: n.id,
			Name:     m.name,
			Rank:     i + 1,
			Score:    m.score,
			Scored:   true,
		})
	}

	unscored := make([]string, 0, len(b.members)-len(nodes))
	for id, m := range b.members {
		if !m.scored {
			unscored = append(unscored, id)
		}
	}
	sort.Strings(unscored)
	terminal := b.Len()
	for _, id := range unscored {
		out = append(out, model.RankEntry{
			EntityID: id,
			Name:     b.members[id].name,
			Rank:     terminal,
		})
	}
	return out
}

// Terminal returns entries that place every entity at the terminal rank,
// ordered by id. It is used when no ranking data exists at all.
func Terminal(entities []model.Entity) []model.RankEntry {
	b := NewBoard()
	for _, e := range entities {
		b.Add(e.ID, e.Name, 0, false)
	}
	return b.Entries()
}
