package treesim

// treesim.go has code that builds the experiment data structures

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// simLog is the logger used for per-second summaries and run totals.
// The command-line driver configures it; tests may swap it out to keep
// output quiet.
var simLog *logrus.Logger = logrus.StandardLogger()

// SetLogger replaces the package logger
func SetLogger(l *logrus.Logger) {
	simLog = l
}

// error kinds surfaced before or at the start of a run.  Violations of
// internal invariants are not errors of these kinds; they panic.
var (
	// ErrConfig marks an invalid topology or parameter set
	ErrConfig = errors.New("invalid configuration")

	// ErrKeySource marks a missing, malformed, or truncated key input
	ErrKeySource = errors.New("key source failure")
)

// ReportErrs folds a list of errors into a single error carrying every
// non-nil constituent, or nil if there are none
func ReportErrs(errs []error) error {
	keep := make([]error, 0)
	for _, err := range errs {
		if err != nil {
			keep = append(keep, err)
		}
	}
	if len(keep) == 0 {
		return nil
	}
	return errors.Join(keep...)
}

// An Experiment holds the complete run-time state of one simulation:
// the node population, the tree set over it, the key source feeding
// generation, and the tick position.
type Experiment struct {
	cfg    *SimCfg
	nodes  []*simNode
	trees  *treeSet
	keySrc KeySource
	sum    *SummaryManager

	tick    int64
	nticks  int64
	tps     int64
	tickLen float64

	// contiguous node ranges, one per worker
	ranges [][2]int

	// first error raised by a tick; the run stops on it
	err error
}

// nodeName gives the stable text name of a node for logs and the
// summary dictionary
func nodeName(id, perRack int) string {
	r := id / perRack
	k := id % perRack
	if k == 0 {
		return fmt.Sprintf("rack%d-hub", r)
	}
	return fmt.Sprintf("rack%d-member%d", r, k)
}

// BuildExperiment validates the configuration and assembles the node,
// tree, and key source structures for one run.  A nil keySrc selects
// the source the configuration names; a nil sum creates an inactive
// summary manager.
func BuildExperiment(cfg *SimCfg, keySrc KeySource, sum *SummaryManager) (*Experiment, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ex := new(Experiment)
	ex.cfg = cfg
	ex.nticks = cfg.TotalTicks()
	ex.tps = cfg.Ticks
	ex.tickLen = 1.0 / float64(cfg.Ticks)

	// create the node population
	total := cfg.TotalNodes()
	ntrees := cfg.TreeCount()
	ex.nodes = make([]*simNode, total)
	for i := 0; i < total; i++ {
		nd := createSimNode(i, nodeName(i, cfg.NodesPerRack), ntrees)
		nd.inCap = cfg.InLimit / cfg.Ticks
		nd.outCap = cfg.OutLimit / cfg.Ticks
		nd.msgSize = cfg.MsgSize
		nd.gcPeriod = cfg.GCPeriod
		nd.msgsPerTick = cfg.MsgsPerTick()
		ex.nodes[i] = nd
	}

	// lay out and link the trees, and place the coalescing policy
	trees, err := buildTrees(cfg, ex.nodes)
	if err != nil {
		return nil, err
	}
	ex.trees = trees

	// tree roots may carry their own bandwidth budget
	for t := 0; t < trees.k; t++ {
		root := ex.nodes[trees.root(t)]
		root.inCap = cfg.rootInLimit() / cfg.Ticks
		root.outCap = cfg.rootOutLimit() / cfg.Ticks
	}

	if keySrc == nil {
		keySrc, err = CreateKeySource(cfg, total)
		if err != nil {
			return nil, err
		}
	}
	ex.keySrc = keySrc

	if sum == nil {
		sum = CreateSummaryManager(cfg.Name, false)
	}
	ex.sum = sum
	for _, nd := range ex.nodes {
		kind := "member"
		if nd.hub {
			kind = "hub"
		}
		sum.AddName(nd.id, nd.name, kind)
	}

	ex.ranges = splitRanges(total, cfg.NThreads)

	return ex, nil
}

// splitRanges partitions node ids into nworkers contiguous ranges, as
// evenly as integer arithmetic allows
func splitRanges(total, nworkers int) [][2]int {
	if nworkers > total {
		nworkers = total
	}

	ranges := make([][2]int, 0, nworkers)
	lo := 0
	for w := 0; w < nworkers; w++ {
		hi := lo + total/nworkers
		if w < total%nworkers {
			hi++
		}
		ranges = append(ranges, [2]int{lo, hi})
		lo = hi
	}
	return ranges
}

// Nodes returns the population size
func (ex *Experiment) Nodes() int {
	return len(ex.nodes)
}

// Trees returns the tree count
func (ex *Experiment) Trees() int {
	return ex.trees.k
}

// Summary returns the experiment's summary manager
func (ex *Experiment) Summary() *SummaryManager {
	return ex.sum
}
