// Package rf grows a deterministic random-forest regressor for the
// correction terms: CART trees on bootstrap resamples with per-node
// feature subsetting, all draws from a single seeded MRG63k3a stream so a
// given seed always rebuilds the identical ensemble.
package rf

import (
	"fmt"
	"math/rand"
	"sort"

	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
)

// Config are the ensemble hyperparameters.
type Config struct {
	NTrees   int
	MaxDepth int
	MinSplit int // fewest samples a node may still split
	MinLeaf  int // fewest samples either child may hold
	MTry     int // features tried per node; <=0 means ceil(p/3)
	Seed     int64
}

// DefaultConfig mirrors the settings the correction model was tuned with.
func DefaultConfig() Config {
	return Config{NTrees: 200, MaxDepth: 15, MinSplit: 10, MinLeaf: 5, Seed: 42}
}

type node struct {
	Feat        int
	Thresh      float64
	Left, Right int32 // node indices; -1 on leaves
	Value       float64
}

type tree struct {
	Nodes []node
}

// Forest is the trained ensemble. Immutable once fitted; safe for any
// number of concurrent Predict callers.
type Forest struct {
	Trees      []tree
	NFeat      int
	Importance []float64 // impurity-decrease shares, sums to 1
}

// Fit grows the ensemble over X (rows of NFeat features) and target y.
func Fit(X [][]float64, y []float64, cfg Config) (*Forest, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("rf.Fit: %d rows against %d targets", n, len(y))
	}
	p := len(X[0])
	if p == 0 {
		return nil, fmt.Errorf("rf.Fit: no features")
	}
	if cfg.NTrees < 1 {
		return nil, fmt.Errorf("rf.Fit: need at least one tree")
	}
	mtry := cfg.MTry
	if mtry <= 0 {
		mtry = (p + 2) / 3
	}
	if mtry > p {
		mtry = p
	}
	minSplit, minLeaf := cfg.MinSplit, cfg.MinLeaf
	if minSplit < 2 {
		minSplit = 2
	}
	if minLeaf < 1 {
		minLeaf = 1
	}

	rng := rand.New(mrg63k3a.New())
	rng.Seed(cfg.Seed)

	f := &Forest{Trees: make([]tree, cfg.NTrees), NFeat: p, Importance: make([]float64, p)}
	g := grower{
		X: X, y: y, rng: rng,
		maxDepth: cfg.MaxDepth, minSplit: minSplit, minLeaf: minLeaf, mtry: mtry,
		imp:   f.Importance,
		feats: make([]int, p),
	}
	for k := range f.Trees {
		idx := make([]int, n) // bootstrap resample
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		g.t = &f.Trees[k]
		g.grow(idx, 0)
	}

	s := 0.
	for _, v := range f.Importance {
		s += v
	}
	if s > 0 {
		for i := range f.Importance {
			f.Importance[i] /= s
		}
	}
	return f, nil
}

type grower struct {
	X        [][]float64
	y        []float64
	rng      *rand.Rand
	t        *tree
	maxDepth, minSplit, minLeaf, mtry int
	imp      []float64
	feats    []int
}

// grow appends the subtree over idx and returns its root node index.
func (g *grower) grow(idx []int, depth int) int32 {
	n := len(idx)
	mean, sse := meanSSE(g.y, idx)

	me := int32(len(g.t.Nodes))
	g.t.Nodes = append(g.t.Nodes, node{Feat: -1, Left: -1, Right: -1, Value: mean})
	if n < g.minSplit || (g.maxDepth > 0 && depth >= g.maxDepth) || sse <= 1e-12 {
		return me
	}

	feat, thresh, gain, ok := g.bestSplit(idx, sse)
	if !ok {
		return me
	}

	li, ri := make([]int, 0, n), make([]int, 0, n)
	for _, i := range idx {
		if g.X[i][feat] <= thresh {
			li = append(li, i)
		} else {
			ri = append(ri, i)
		}
	}
	if len(li) < g.minLeaf || len(ri) < g.minLeaf {
		return me
	}

	g.imp[feat] += gain
	g.t.Nodes[me].Feat = feat
	g.t.Nodes[me].Thresh = thresh
	l := g.grow(li, depth+1)
	r := g.grow(ri, depth+1)
	g.t.Nodes[me].Left = l
	g.t.Nodes[me].Right = r
	return me
}

// bestSplit scans mtry features drawn without replacement for the largest
// SSE reduction honoring minLeaf.
func (g *grower) bestSplit(idx []int, parentSSE float64) (feat int, thresh, gain float64, ok bool) {
	p := len(g.feats)
	for i := range g.feats {
		g.feats[i] = i
	}
	g.rng.Shuffle(p, func(i, j int) { g.feats[i], g.feats[j] = g.feats[j], g.feats[i] })

	n := len(idx)
	ord := make([]int, n)
	bestGain := 0.
	for _, f := range g.feats[:g.mtry] {
		copy(ord, idx)
		sort.Slice(ord, func(a, b int) bool { return g.X[ord[a]][f] < g.X[ord[b]][f] })

		// running left/right sums over the sorted order
		var ls, lss float64
		rs, rss := 0., 0.
		for _, i := range ord {
			rs += g.y[i]
			rss += g.y[i] * g.y[i]
		}
		for k := 0; k < n-1; k++ {
			yi := g.y[ord[k]]
			ls += yi
			lss += yi * yi
			rs -= yi
			rss -= yi * yi
			if k+1 < g.minLeaf || n-k-1 < g.minLeaf {
				continue
			}
			xv, xn := g.X[ord[k]][f], g.X[ord[k+1]][f]
			if xv == xn { // can't cut between equal values
				continue
			}
			nl, nr := float64(k+1), float64(n-k-1)
			childSSE := (lss - ls*ls/nl) + (rss - rs*rs/nr)
			if gn := parentSSE - childSSE; gn > bestGain+1e-12 {
				bestGain, feat, thresh, ok = gn, f, (xv+xn)/2, true
			}
		}
	}
	return feat, thresh, bestGain, ok
}

func meanSSE(y []float64, idx []int) (mean, sse float64) {
	for _, i := range idx {
		mean += y[i]
	}
	mean /= float64(len(idx))
	for _, i := range idx {
		d := y[i] - mean
		sse += d * d
	}
	return mean, sse
}

// Predict scores one feature row.
func (f *Forest) Predict(x []float64) float64 {
	s := 0.
	for k := range f.Trees {
		nd := &f.Trees[k].Nodes[0]
		for nd.Left >= 0 {
			if x[nd.Feat] <= nd.Thresh {
				nd = &f.Trees[k].Nodes[nd.Left]
			} else {
				nd = &f.Trees[k].Nodes[nd.Right]
			}
		}
		s += nd.Value
	}
	return s / float64(len(f.Trees))
}

// PredictBatch scores rows into out (len(out) == len(X)). Callers fan
// blocks of rows across goroutines; the forest itself is read-only.
func (f *Forest) PredictBatch(X [][]float64, out []float64) error {
	if len(X) != len(out) {
		return fmt.Errorf("rf.PredictBatch: %d rows into %d outputs", len(X), len(out))
	}
	for i, x := range X {
		if len(x) != f.NFeat {
			return fmt.Errorf("rf.PredictBatch: row %d has %d features, forest wants %d", i, len(x), f.NFeat)
		}
		out[i] = f.Predict(x)
	}
	return nil
}
