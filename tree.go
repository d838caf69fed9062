package treesim

// tree.go builds the fan-in trees over racks.  Racks are laid out in
// level-order and linked with the configured fanout; in multi-tree mode
// the layouts are permuted so that every rack serves as an internal
// (non-leaf) node in at most one tree.  The same file assigns the
// coalescing flag and delay for every node and tree from the policy
// selector.
//
// The approach for checking the built topology follows the route
// discovery code this package grew out of: convert the parent arrays
// into the graph package's representation and let its algorithms do the
// structural work.  A topological sort succeeding on the directed
// parent graph is exactly acyclicity.

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// treeSet describes the K trees of an experiment
type treeSet struct {
	k          int
	ninternals int
	levels     int

	// layouts[t] is the level-order permutation of rack hub node ids
	// for tree t; layouts[t][0] is the root
	layouts [][]int
}

// internalCount returns the number of racks that have at least one
// child rack in a level-order tree of nracks racks with the given
// fanout
func internalCount(fanout, nracks int) int {
	sum, x := 0, 1
	for sum+x < nracks {
		sum += x
		x *= fanout
	}
	rem := nracks - sum
	return nracks - (rem + x/fanout - (rem+fanout-1)/fanout)
}

// treeLevels returns the number of levels in a level-order tree of
// nracks racks with the given fanout
func treeLevels(fanout, nracks int) int {
	levels := 0
	span, width := 0, 1
	for span < nracks {
		span += width
		width *= fanout
		levels++
	}
	return levels
}

// internals returns the node ids of the racks that act as internal
// nodes of tree t
func (ts *treeSet) internals(t int) []int {
	return ts.layouts[t][0:ts.ninternals]
}

// root returns the node id of the root of tree t
func (ts *treeSet) root(t int) int {
	return ts.layouts[t][0]
}

// buildTrees lays out and links the trees over the argument nodes, and
// assigns the per-node per-tree coalescing configuration.  The nodes
// must have been created with per-tree slices sized for the tree count
// the configuration implies.
func buildTrees(cfg *SimCfg, nodes []*simNode) (*treeSet, error) {
	nracks := cfg.NRacks
	perRack := cfg.NodesPerRack
	fanout := cfg.Fanout

	ts := new(treeSet)
	ts.k = cfg.TreeCount()
	ts.ninternals = internalCount(fanout, nracks)
	ts.levels = treeLevels(fanout, nracks)

	// multi-tree placement requires the internal blocks of all trees
	// to fit disjointly in the rack population
	if cfg.MultiTree && ts.k*ts.ninternals > nracks {
		return nil, fmt.Errorf("%w: %d trees of %d internal racks exceed %d racks",
			ErrConfig, ts.k, ts.ninternals, nracks)
	}

	// level-order layout per tree.  Tree 0 uses the identity layout; in
	// tree t the leading internal block is swapped with the block
	// starting at t*ninternals, which keeps internal sets disjoint.
	ts.layouts = make([][]int, ts.k)
	for t := 0; t < ts.k; t++ {
		layout := make([]int, nracks)
		for j := 0; j < nracks; j++ {
			layout[j] = j * perRack
		}
		if t > 0 {
			for j := 0; j < ts.ninternals; j++ {
				swap := j + t*ts.ninternals
				layout[j], layout[swap] = layout[swap], layout[j]
			}
		}
		ts.layouts[t] = layout
	}

	// link each tree with a two-pointer sweep over its layout
	for t := 0; t < ts.k; t++ {
		layout := ts.layouts[t]
		nodes[layout[0]].parent[t] = -1
		nodes[layout[0]].level[t] = 0

		lo, hi, cnt := 0, 1, 0
		for hi < nracks {
			p := layout[lo]
			c := layout[hi]
			nodes[c].parent[t] = p
			nodes[c].level[t] = nodes[p].level[t] + 1
			hi++
			cnt++
			if cnt == fanout {
				cnt = 0
				lo++
			}
		}
	}

	// within a rack every non-hub member forwards to the rack's first
	// node in every tree; members take no inter-rack position
	for r := 0; r < nracks; r++ {
		h := r * perRack
		nodes[h].hub = true
		for k := 1; k < perRack; k++ {
			for t := 0; t < ts.k; t++ {
				nodes[h+k].parent[t] = h
			}
		}
	}

	assignGCPolicy(cfg, ts, nodes)
	verifyTrees(ts, nodes)

	return ts, nil
}

// assignGCPolicy configures the coalescing flag and delay on every hub
// for every tree, according to the policy selector:
//
//	0  no coalescing anywhere
//	1  all hubs, flat share of the delay budget
//	2  all hubs, linearly more delay nearer the root
//	3  all hubs, linearly more delay nearer the leaves
//	4  top gc_levels levels only, flat share
//	5  top levels, linearly more delay nearer the root
//	6  top levels, linearly more delay nearer the leaves
//
// Delays are rounded to whole ticks at assignment time.
func assignGCPolicy(cfg *SimCfg, ts *treeSet, nodes []*simNode) {
	if cfg.GCPolicy == gcPolicyNone {
		return
	}

	levels := ts.levels
	budget := float64(cfg.GCAccDelay)
	top := levels
	if cfg.GCLevels < top {
		top = cfg.GCLevels
	}

	for t := 0; t < ts.k; t++ {
		for _, id := range ts.layouts[t] {
			nd := nodes[id]
			l := nd.level[t]

			var delay float64
			switch cfg.GCPolicy {
			case gcPolicyFlat:
				delay = budget / float64(levels)
			case gcPolicyRootHeavy:
				delay = budget * float64(levels-l) / float64(levels*(levels+1)/2)
			case gcPolicyLeafHeavy:
				delay = budget * float64(l+1) / float64(levels*(levels+1)/2)
			case gcPolicyTopFlat:
				if l >= top {
					continue
				}
				delay = budget / float64(top)
			case gcPolicyTopRootHeavy:
				if l >= top {
					continue
				}
				delay = budget * float64(top-l) / float64(top*(top+1)/2)
			case gcPolicyTopLeafHeavy:
				if l >= top {
					continue
				}
				delay = budget * float64(l+1) / float64(top*(top+1)/2)
			}

			nd.gcOn[t] = true
			nd.gcDelay[t] = int64(math.Round(delay))
		}
	}
}

// verifyTrees cross-checks the built parent arrays: every tree must be
// acyclic with exactly one root, and in multi-tree mode the internal
// sets must be pairwise disjoint.  A failure here is a builder bug, not
// a configuration problem.
func verifyTrees(ts *treeSet, nodes []*simNode) {
	for t := 0; t < ts.k; t++ {
		g := simple.NewDirectedGraph()
		roots := 0
		for _, id := range ts.layouts[t] {
			if nodes[id].parent[t] == -1 {
				roots++
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(nodes[id].parent[t]), simple.Node(id)))
		}
		if roots != 1 {
			panic(fmt.Sprintf("tree %d built with %d roots", t, roots))
		}
		_, err := topo.Sort(g)
		if err != nil {
			panic(fmt.Sprintf("tree %d built with a cycle: %v", t, err))
		}
	}

	for t := 1; t < ts.k; t++ {
		prior := []int{}
		for s := 0; s < t; s++ {
			prior = append(prior, ts.internals(s)...)
		}
		for _, id := range ts.internals(t) {
			if slices.Contains(prior, id) {
				panic(fmt.Sprintf("rack node %d internal in more than one tree", id))
			}
		}
	}
}
