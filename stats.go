package treesim

// stats.go holds the reporting side of the simulator: the per-second
// summary over every hub, and the whole-run totals used both for the
// final log lines and for conservation checks.

// RunTotals aggregates the whole-run counters.  All fields are bytes of
// effective traffic: Generated counts every message born, Saved counts
// messages suppressed by coalescing, Absorbed counts effective weight
// delivered at tree roots, and Resident counts effective weight still
// staged in buffers and inboxes.  Generated == Absorbed + Resident at
// any tick boundary.
type RunTotals struct {
	Generated int64
	Saved     int64
	Absorbed  int64
	Resident  int64
}

// Totals collects the run totals across the node population
func (ex *Experiment) Totals() RunTotals {
	var tot RunTotals
	for _, nd := range ex.nodes {
		tot.Generated += nd.totalGen
		tot.Saved += nd.totalSaved
		tot.Absorbed += nd.totalAbsorbed
		tot.Resident += nd.residentEff()
	}
	return tot
}

// reportSecond emits the per-second summary: for every hub, the total
// input (subtree plus self), output, and effective output in MB, and
// the share of the inbound and outbound caps used.  The line after the
// hubs carries the run totals of generated and saved bytes.  Rolling
// counters are cleared afterwards.
func (ex *Experiment) reportSecond(sec int64) {
	for _, nd := range ex.nodes {
		if !nd.hub {
			continue
		}
		inMB := float64(nd.inPerSec+nd.selfPerSec) / 1e6
		outMB := float64(nd.outPerSec) / 1e6
		effMB := float64(nd.effOutPerSec) / 1e6
		inPct := 100.0 * float64(nd.inPerSec) / float64(nd.inCap*ex.tps)
		outPct := 100.0 * float64(nd.outPerSec) / float64(nd.outCap*ex.tps)

		simLog.Infof("t=%ds %s in %.3fMB out %.3fMB eff %.3fMB in%% %.1f out%% %.1f",
			sec, nd.name, inMB, outMB, effMB, inPct, outPct)

		ex.sum.AddSummary(sec, nd.id, inMB, outMB, effMB, inPct, outPct)
	}

	tot := ex.Totals()
	simLog.Infof("t=%ds generated %d bytes, saved %d bytes", sec, tot.Generated, tot.Saved)

	for _, nd := range ex.nodes {
		nd.clearSecond()
	}
}

// logTotals reports the end-of-run accounting
func (ex *Experiment) logTotals() {
	tot := ex.Totals()
	simLog.Infof("run complete after %d ticks: generated %d bytes, saved %d bytes, absorbed %d bytes, resident %d bytes",
		ex.tick, tot.Generated, tot.Saved, tot.Absorbed, tot.Resident)
}
