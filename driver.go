package treesim

// driver.go holds the tick driver.  Ticks are executed strictly
// sequentially; within a tick the first sweep (admit, generate,
// coalesce) fans out across a worker pool over disjoint node ranges,
// and after a barrier the emit sweep runs single-threaded because it
// writes into other nodes' inboxes.  The tick sequence itself is paced
// by an event manager: one handler executes a tick and reschedules
// itself one tick-length of virtual time later.

import (
	"sync"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// Run executes the experiment from tick zero through
// duration*ticks_per_second, then logs the run totals.  The returned
// error is the key source failure that stopped the run early, if any.
func (ex *Experiment) Run() error {
	evtMgr := evtm.New()
	evtMgr.Schedule(ex, nil, execTick, vrtime.SecondsToTime(0.0))
	evtMgr.Run(float64(ex.cfg.Duration) + 1.0)

	if ex.err != nil {
		return ex.err
	}
	ex.logTotals()
	return nil
}

// execTick is the event handler that advances the simulation by one
// tick and schedules the next
func execTick(evtMgr *evtm.EventManager, context any, data any) any {
	ex := context.(*Experiment)
	if !ex.runTick() {
		return nil
	}
	if ex.tick < ex.nticks {
		evtMgr.Schedule(ex, nil, execTick, vrtime.SecondsToTime(ex.tickLen))
	}
	return nil
}

// runTick executes one full tick.  The return is false when the run is
// over, either because the tick budget is spent or an error stopped it.
func (ex *Experiment) runTick() bool {
	t := ex.tick

	// reserve every node's generation keys for this tick.  Walking the
	// nodes in id order here keeps the key hand-out independent of how
	// the workers below are scheduled.
	for _, nd := range ex.nodes {
		if nd.msgsPerTick == 0 {
			continue
		}
		keys, err := ex.keySrc.NextKeys(nd.id, nd.msgsPerTick)
		if err != nil {
			ex.err = err
			return false
		}
		nd.keys = keys
	}

	// first sweep in parallel over the worker ranges
	var wg sync.WaitGroup
	for _, r := range ex.ranges {
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				ex.nodes[i].admitGenerateCoalesce(t)
			}
		}(r[0], r[1])
	}
	wg.Wait()

	// emit sweep, single-threaded in node order
	for _, nd := range ex.nodes {
		nd.emit(t, ex.nodes)
	}

	ex.tick++
	if ex.tick%ex.tps == 0 {
		ex.reportSecond(ex.tick / ex.tps)
	}
	return ex.tick < ex.nticks
}

// runTicks advances the experiment by up to n ticks without the event
// manager pacing, for tests that need fine control of the clock
func (ex *Experiment) runTicks(n int64) {
	for i := int64(0); i < n; i++ {
		if !ex.runTick() {
			return
		}
	}
}
