package treesim

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// keep per-second summaries out of test output
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	SetLogger(quiet)
}

// a chain of three single-node racks with no coalescing relays every
// message to the root, less the pipeline still in flight when the run
// ends
func TestChainOfThreeNoGC(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 3
	cfg.Fanout = 1
	cfg.MsgRate = 1000
	cfg.Ticks = 1000
	cfg.Duration = 1
	cfg.GCPolicy = gcPolicyNone
	cfg.InLimit = 1_000_000_000
	cfg.OutLimit = 1_000_000_000

	ex, err := BuildExperiment(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Run())

	tot := ex.Totals()
	assert.Equal(t, int64(3*1000*32), tot.Generated)
	assert.Equal(t, int64(0), tot.Saved)

	// the root absorbed 1000 of its own, 999 from the middle, and 998
	// relayed from the leaf; three messages are still in flight
	assert.Equal(t, int64((1000+999+998)*32), tot.Absorbed)
	assert.Equal(t, int64(3*32), tot.Resident)
	assert.Equal(t, tot.Generated, tot.Absorbed+tot.Resident)
}

// a root whose inbound budget admits one message per tick backlogs the
// flood in its inbox
func TestRateLimitedAdmit(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 2
	cfg.Fanout = 1
	cfg.MsgRate = 100_000
	cfg.Ticks = 1000
	cfg.Duration = 1
	cfg.InLimit = 32_000
	cfg.InLimitRoot = 32_000

	ex, err := BuildExperiment(cfg, nil, nil)
	require.NoError(t, err)

	// stop one tick short of the second boundary so the rolling
	// counters are still visible
	ex.runTicks(999)

	root := ex.nodes[0]
	assert.LessOrEqual(t, root.inPerSec, int64(32_000))
	assert.Equal(t, int64(998*32), root.inPerSec)
	assert.Greater(t, root.inbox.Len(), 90_000)

	// every tick stayed inside the budget
	assert.LessOrEqual(t, root.inUsed, root.inCap)
	assert.LessOrEqual(t, root.outUsed, root.outCap)
}

// a constant-key flood through a coalescing hub collapses to one
// surviving message per pass carrying the whole weight
func TestSameKeyFloodCoalesces(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 2
	cfg.Fanout = 1
	cfg.MsgRate = 1000
	cfg.Ticks = 1
	cfg.Duration = 3
	cfg.GCPolicy = gcPolicyFlat
	cfg.GCPeriod = 1
	cfg.GCAccDelay = 0

	ex, err := BuildExperiment(cfg, CreateConstKeySource(7), nil)
	require.NoError(t, err)
	require.NoError(t, ex.Run())

	leaf := ex.nodes[1]
	root := ex.nodes[0]

	// each of the leaf's three passes folded 1000 same-key messages
	// into one survivor
	assert.Equal(t, int64(3*999*32), leaf.totalSaved)

	// the root's first pass folded only its own batch; the next two
	// also absorbed an arrived survivor of weight 1000 each
	assert.Equal(t, int64((999+1000+1000)*32), root.totalSaved)
	assert.Equal(t, int64((1000+2000+2000)*32), root.totalAbsorbed)

	tot := ex.Totals()
	assert.Equal(t, int64(2*3*1000*32), tot.Generated)
	assert.Equal(t, tot.Generated, tot.Absorbed+tot.Resident)

	// nothing lingers in the staging buffers themselves
	assert.Empty(t, root.buf[0])
	assert.Empty(t, leaf.buf[0])
}

// with the policy selector at zero the effective output equals the
// generated traffic exactly
func TestPolicyZeroIsIdentity(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 4
	cfg.NodesPerRack = 2
	cfg.Fanout = 2
	cfg.MsgRate = 2000
	cfg.Ticks = 100
	cfg.Duration = 1
	cfg.GCPolicy = gcPolicyNone
	cfg.KeySpace = 16 // plenty of key collisions to ignore

	ex, err := BuildExperiment(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Run())

	tot := ex.Totals()
	assert.Equal(t, int64(0), tot.Saved)
	assert.Equal(t, tot.Generated, tot.Absorbed+tot.Resident)
	assert.Positive(t, tot.Absorbed)
}

// weight is conserved under coalescing: suppressed messages hand their
// weight to a survivor rather than leaving the system
func TestWeightConservationUnderGC(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 7
	cfg.Fanout = 2
	cfg.MsgRate = 3000
	cfg.Ticks = 100
	cfg.Duration = 2
	cfg.GCPolicy = gcPolicyRootHeavy
	cfg.GCPeriod = 5
	cfg.GCAccDelay = 50
	cfg.KeySpace = 64

	ex, err := BuildExperiment(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ex.Run())

	tot := ex.Totals()
	assert.Positive(t, tot.Saved)
	assert.Equal(t, tot.Generated, tot.Absorbed+tot.Resident)
}

type nodeSnapshot struct {
	gen, saved, absorbed, resident int64
}

func snapshot(ex *Experiment) []nodeSnapshot {
	snaps := make([]nodeSnapshot, len(ex.nodes))
	for i, nd := range ex.nodes {
		snaps[i] = nodeSnapshot{
			gen:      nd.totalGen,
			saved:    nd.totalSaved,
			absorbed: nd.totalAbsorbed,
			resident: nd.residentEff(),
		}
	}
	return snaps
}

// the worker count partitions work but never changes results
func TestDeterminismAcrossThreads(t *testing.T) {
	build := func(nthreads int) *Experiment {
		cfg := DfltSimCfg()
		cfg.NRacks = 6
		cfg.NodesPerRack = 2
		cfg.Fanout = 2
		cfg.MsgRate = 4000
		cfg.Ticks = 100
		cfg.Duration = 1
		cfg.GCPolicy = gcPolicyFlat
		cfg.GCPeriod = 5
		cfg.GCAccDelay = 20
		cfg.KeySpace = 32
		cfg.NThreads = nthreads

		ex, err := BuildExperiment(cfg, nil, nil)
		require.NoError(t, err)
		require.NoError(t, ex.Run())
		return ex
	}

	one := snapshot(build(1))
	four := snapshot(build(4))
	assert.Equal(t, one, four)
}

// multi-tree runs spread every node's generation over the trees and
// still conserve weight at the disjoint roots
func TestMultiTreeRun(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 6
	cfg.Fanout = 3
	cfg.MultiTree = true
	cfg.MsgRate = 2000
	cfg.Ticks = 100
	cfg.Duration = 1
	cfg.KeySpace = 64

	ex, err := BuildExperiment(cfg, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, ex.Trees())
	require.NoError(t, ex.Run())

	// only tree roots absorb
	for i, nd := range ex.nodes {
		isRoot := i == ex.trees.root(0) || i == ex.trees.root(1)
		if isRoot {
			assert.Positive(t, nd.totalAbsorbed, "node %d", i)
		} else {
			assert.Zero(t, nd.totalAbsorbed, "node %d", i)
		}
	}

	tot := ex.Totals()
	assert.Equal(t, tot.Generated, tot.Absorbed+tot.Resident)
}

type failingKeySource struct{}

func (failingKeySource) NextKey(node int) (int64, error) {
	return 0, ErrKeySource
}

func (failingKeySource) NextKeys(node, n int) ([]int64, error) {
	return nil, ErrKeySource
}

func TestRunStopsOnKeySourceFailure(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 2
	cfg.Ticks = 10
	cfg.Duration = 1
	cfg.MsgRate = 10

	ex, err := BuildExperiment(cfg, failingKeySource{}, nil)
	require.NoError(t, err)

	err = ex.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeySource))
}

// the per-second summary lands in the summary manager for every hub
func TestSummaryGathering(t *testing.T) {
	cfg := DfltSimCfg()
	cfg.NRacks = 2
	cfg.NodesPerRack = 2
	cfg.Fanout = 1
	cfg.MsgRate = 100
	cfg.Ticks = 10
	cfg.Duration = 2

	sum := CreateSummaryManager("gather", true)
	ex, err := BuildExperiment(cfg, nil, sum)
	require.NoError(t, err)
	require.NoError(t, ex.Run())

	// two hubs, two seconds each
	require.Len(t, sum.Summaries, 2)
	assert.Len(t, sum.Summaries[0], 2)
	assert.Len(t, sum.Summaries[2], 2)
	assert.Equal(t, "rack0-hub", sum.NameByID[0].Name)
	assert.Equal(t, "rack1-member1", sum.NameByID[3].Name)
}
