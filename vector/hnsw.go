package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/opencaselaw/caselex/distance"
	"github.com/opencaselaw/caselex/model"
)

// ErrDimensionMismatch indicates a vector whose dimension differs from
// the index's fixed dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options are the build-time quality parameters of the graph. They are
// fixed per index; search recall is controlled by EfSearch chosen at
// build time, not per query.
type Options struct {
	// M is the number of established connections per element. 12-48
	// suits most embedding dimensionalities; the bottom layer allows 2M.
	M int

	// EfConstruction is the candidate list size while building.
	EfConstruction int

	// EfSearch is the candidate list size while querying.
	EfSearch int
}

// DefaultOptions is tuned for sentence-embedding workloads.
var DefaultOptions = Options{
	M:              16,
	EfConstruction: 200,
	EfSearch:       64,
}

type node struct {
	key         model.ClauseID
	vector      []float32
	layer       int
	connections [][]uint32
}

// Index is the sealed, immutable ANN index of one snapshot.
type Index struct {
	dim      int
	opts     Options
	nodes    []node
	ep       uint32
	maxLayer int
}

// Builder assembles an Index via bulk insertion. Not safe for
// concurrent use; the index build path is single-writer.
type Builder struct {
	idx  *Index
	ml   float64
	seen map[model.ClauseID]struct{}
}

// NewBuilder creates a Builder for vectors of the given dimension.
func NewBuilder(dim int, optFns ...func(*Options)) *Builder {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		opts.M = 2
	}
	if opts.EfConstruction < opts.M {
		opts.EfConstruction = opts.M
	}
	if opts.EfSearch < 1 {
		opts.EfSearch = DefaultOptions.EfSearch
	}

	return &Builder{
		idx:  &Index{dim: dim, opts: opts},
		ml:   1 / math.Log(float64(opts.M)),
		seen: make(map[model.ClauseID]struct{}),
	}
}

// Add inserts one (clause id, embedding) pair. The vector is copied.
// Fails with *ErrDimensionMismatch on a wrong dimension and rejects
// duplicate clause ids.
func (b *Builder) Add(key model.ClauseID, vec []float32) error {
	if b.idx == nil {
		return fmt.Errorf("vector: builder already sealed")
	}
	if len(vec) != b.idx.dim {
		return &ErrDimensionMismatch{Expected: b.idx.dim, Actual: len(vec)}
	}
	if _, ok := b.seen[key]; ok {
		return fmt.Errorf("vector: duplicate clause id %d", key)
	}
	b.seen[key] = struct{}{}

	idx := b.idx
	id := uint32(len(idx.nodes))
	layer := b.assignLayer(key)

	n := node{
		key:         key,
		vector:      slices.Clone(vec),
		layer:       layer,
		connections: make([][]uint32, layer+1),
	}

	if len(idx.nodes) == 0 {
		idx.nodes = append(idx.nodes, n)
		idx.ep = 0
		idx.maxLayer = layer
		return nil
	}

	// Greedy descent through the layers above the new node's top layer.
	curr := idx.ep
	currDist := distance.SquaredL2(idx.nodes[curr].vector, vec)
	for l := idx.maxLayer; l > layer; l-- {
		curr, currDist = idx.greedyStep(vec, curr, currDist, l, nil)
	}

	// Link the new node on every shared layer.
	for l := min(layer, idx.maxLayer); l >= 0; l-- {
		results := &priorityQueue{max: true}
		idx.searchLayer(vec, curr, currDist, results, idx.opts.EfConstruction, l, nil)

		neighbors := idx.selectNeighbors(results, idx.opts.M)
		n.connections[l] = neighbors

		if best, ok := closest(idx, vec, neighbors); ok {
			curr = best
			currDist = distance.SquaredL2(idx.nodes[curr].vector, vec)
		}
	}

	idx.nodes = append(idx.nodes, n)

	for l := min(layer, idx.maxLayer); l >= 0; l-- {
		for _, neighbor := range idx.nodes[id].connections[l] {
			idx.link(neighbor, id, l)
		}
	}

	if layer > idx.maxLayer {
		idx.ep = id
		idx.maxLayer = layer
	}

	return nil
}

// Build seals the graph and returns the immutable index. The Builder
// must not be used afterwards.
func (b *Builder) Build() *Index {
	idx := b.idx
	b.idx = nil
	b.seen = nil
	return idx
}

// assignLayer derives the node's top layer from its key so an
// identical build input always produces an identical graph.
func (b *Builder) assignLayer(key model.ClauseID) int {
	u := float64(splitmix64(uint64(key))>>11) / float64(1<<53)
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * b.ml))
}

// splitmix64 is the finalizer of the splitmix64 generator; enough bits
// of avalanche for level assignment.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Dimension returns the fixed vector dimension.
func (idx *Index) Dimension() int { return idx.dim }

// Len returns the number of indexed clauses.
func (idx *Index) Len() int { return len(idx.nodes) }

// ForEachKey calls fn for every indexed clause id in insertion order,
// stopping early when fn returns false.
func (idx *Index) ForEachKey(fn func(model.ClauseID) bool) {
	for i := range idx.nodes {
		if !fn(idx.nodes[i].key) {
			return
		}
	}
}

// Query returns up to k clauses ordered by descending similarity.
// budget caps the number of visited nodes; 0 selects the build-time
// default. An exhausted budget or context deadline yields the best
// candidates found so far with partial=true, never an error.
func (idx *Index) Query(ctx context.Context, q []float32, k int, budget int) (hits []model.VectorHit, partial bool, err error) {
	if len(q) != idx.dim {
		return nil, false, &ErrDimensionMismatch{Expected: idx.dim, Actual: len(q)}
	}
	if k <= 0 || len(idx.nodes) == 0 {
		return nil, false, nil
	}
	if budget <= 0 {
		budget = idx.opts.EfSearch * 8
	}

	tb := &traversalBudget{ctx: ctx, remaining: budget}

	curr := idx.ep
	currDist := distance.SquaredL2(idx.nodes[curr].vector, q)
	tb.spend(1)
	for l := idx.maxLayer; l > 0; l-- {
		curr, currDist = idx.greedyStep(q, curr, currDist, l, tb)
	}

	results := &priorityQueue{max: true}
	idx.searchLayer(q, curr, currDist, results, max(idx.opts.EfSearch, k), 0, tb)

	for results.Len() > k {
		heap.Pop(results)
	}

	hits = make([]model.VectorHit, 0, results.Len())
	for results.Len() > 0 {
		it := heap.Pop(results).(queueItem)
		hits = append(hits, model.VectorHit{
			Clause: idx.nodes[it.node].key,
			Score:  similarity(it.dist),
		})
	}
	slices.Reverse(hits)

	// Equal distances get a stable order.
	slices.SortStableFunc(hits, func(a, b model.VectorHit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Clause < b.Clause:
			return -1
		case a.Clause > b.Clause:
			return 1
		default:
			return 0
		}
	})

	return hits, tb.exhausted, nil
}

// similarity maps squared L2 distance between normalized vectors onto
// [0,1]: dist = 2 - 2cos, so 1 - dist/4 = (1+cos)/2.
func similarity(dist float32) float32 {
	s := 1 - dist/4
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// traversalBudget bounds search effort. The context deadline is polled
// at bounded intervals so traversal never blocks past it.
type traversalBudget struct {
	ctx       context.Context
	remaining int
	visited   int
	exhausted bool
}

const deadlineCheckInterval = 64

// spend consumes n visits and reports whether traversal may continue.
func (tb *traversalBudget) spend(n int) bool {
	if tb == nil {
		return true
	}
	if tb.exhausted {
		return false
	}
	tb.remaining -= n
	tb.visited += n
	if tb.remaining < 0 {
		tb.exhausted = true
		return false
	}
	if tb.ctx != nil && tb.visited%deadlineCheckInterval < n && tb.ctx.Err() != nil {
		tb.exhausted = true
		return false
	}
	return true
}

// greedyStep walks layer l greedily toward q from curr.
func (idx *Index) greedyStep(q []float32, curr uint32, currDist float32, l int, tb *traversalBudget) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		for _, neighbor := range idx.connectionsAt(curr, l) {
			if !tb.spend(1) {
				return curr, currDist
			}
			d := distance.SquaredL2(idx.nodes[neighbor].vector, q)
			if d < currDist {
				curr, currDist = neighbor, d
				changed = true
			}
		}
	}
	return curr, currDist
}

// searchLayer is the beam search of one layer: a min-heap frontier
// expands while a bounded max-heap keeps the ef best results.
func (idx *Index) searchLayer(q []float32, entry uint32, entryDist float32, results *priorityQueue, ef, l int, tb *traversalBudget) {
	visited := make([]bool, len(idx.nodes))
	visited[entry] = true

	candidates := &priorityQueue{}
	heap.Init(candidates)
	heap.Push(candidates, queueItem{node: entry, dist: entryDist})

	heap.Init(results)
	heap.Push(results, queueItem{node: entry, dist: entryDist})

	for candidates.Len() > 0 {
		cand := heap.Pop(candidates).(queueItem)
		if cand.dist > results.top().dist && results.Len() >= ef {
			break
		}

		for _, neighbor := range idx.connectionsAt(cand.node, l) {
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true

			if !tb.spend(1) {
				return
			}

			d := distance.SquaredL2(idx.nodes[neighbor].vector, q)
			if results.Len() < ef {
				heap.Push(results, queueItem{node: neighbor, dist: d})
				heap.Push(candidates, queueItem{node: neighbor, dist: d})
			} else if d < results.top().dist {
				heap.Pop(results)
				heap.Push(results, queueItem{node: neighbor, dist: d})
				heap.Push(candidates, queueItem{node: neighbor, dist: d})
			}
		}
	}
}

// selectNeighbors keeps the m closest candidates, draining the queue.
func (idx *Index) selectNeighbors(results *priorityQueue, m int) []uint32 {
	for results.Len() > m {
		heap.Pop(results)
	}
	neighbors := make([]uint32, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		neighbors[i] = heap.Pop(results).(queueItem).node
	}
	return neighbors
}

// link connects first -> second on layer l, pruning back to the layer's
// connection cap when exceeded.
func (idx *Index) link(first, second uint32, l int) {
	maxConns := idx.opts.M
	if l == 0 {
		maxConns = 2 * idx.opts.M
	}

	n := &idx.nodes[first]
	n.connections[l] = append(n.connections[l], second)
	if len(n.connections[l]) <= maxConns {
		return
	}

	pruned := &priorityQueue{max: true}
	heap.Init(pruned)
	for _, id := range n.connections[l] {
		heap.Push(pruned, queueItem{node: id, dist: distance.SquaredL2(n.vector, idx.nodes[id].vector)})
	}
	n.connections[l] = idx.selectNeighbors(pruned, maxConns)
}

// connectionsAt returns curr's neighbors on layer l, if it reaches it.
func (idx *Index) connectionsAt(curr uint32, l int) []uint32 {
	conns := idx.nodes[curr].connections
	if l >= len(conns) {
		return nil
	}
	return conns[l]
}

// closest returns the candidate nearest to q out of ids.
func closest(idx *Index, q []float32, ids []uint32) (uint32, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	best := ids[0]
	bestDist := distance.SquaredL2(idx.nodes[best].vector, q)
	for _, id := range ids[1:] {
		if d := distance.SquaredL2(idx.nodes[id].vector, q); d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, true
}
