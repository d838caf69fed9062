package main

// main.go is the command-line driver for the aggregation overlay
// simulator.  Flags mirror the SimCfg fields one for one; alternatively
// a -cfg file carries the whole experiment description.

import (
	"flag"
	"path"

	"github.com/aquario/treesim"
	"github.com/sirupsen/logrus"
)

func main() {
	dflt := treesim.DfltSimCfg()

	nracks := flag.Int("nracks", dflt.NRacks, "#racks.")
	nodesPerRack := flag.Int("nodes_per_rack", dflt.NodesPerRack, "#nodes per rack.")
	fanout := flag.Int("fanout", dflt.Fanout, "Fanout at rack-level.")
	multitree := flag.Bool("multitree", false, "Build multiple trees over disjoint internal racks.")
	msgRate := flag.Int("msg_rate", dflt.MsgRate, "Messages generated per second at a node.")
	msgSize := flag.Int64("msg_size", dflt.MsgSize, "Message size in bytes.")
	gcPolicy := flag.Int("gc_policy", dflt.GCPolicy, "GC placement policy, 0..6.")
	gcPeriod := flag.Int64("gc_period", dflt.GCPeriod, "Ticks between GC passes.")
	gcLevels := flag.Int("gc_levels", dflt.GCLevels, "Number of top tree levels that GC under policies 4-6.")
	gcAccDelay := flag.Int64("gc_acc_delay", dflt.GCAccDelay, "Total GC delay budget along a root path, in ticks.")
	inLimit := flag.Int64("in_limit", dflt.InLimit, "Inbound BW limit per second at a node.")
	outLimit := flag.Int64("out_limit", dflt.OutLimit, "Outbound BW limit per second at a node.")
	inLimitRoot := flag.Int64("in_limit_root", 0, "Inbound BW limit per second at a tree root; 0 inherits in_limit.")
	outLimitRoot := flag.Int64("out_limit_root", 0, "Outbound BW limit per second at a tree root; 0 inherits out_limit.")
	duration := flag.Int64("duration", dflt.Duration, "Duration of a simulation in seconds.")
	ticks := flag.Int64("ticks", dflt.Ticks, "#ticks in a second during simulation.")
	nthreads := flag.Int("nthreads", dflt.NThreads, "Number of worker threads.")
	keySource := flag.String("key_source", dflt.KeySource, "Key source: file, uniform, exp, or const.")
	keyDir := flag.String("key_dir", dflt.KeyDir, "Directory holding key data files data-0, data-1, ...")
	keyBuf := flag.Int("key_buf", dflt.KeyBuf, "Read buffer for key data files, in bytes.")
	keySpace := flag.Int64("key_space", dflt.KeySpace, "Size of the synthetic key space.")
	keySkew := flag.Float64("key_skew", dflt.KeySkew, "Rate parameter of the exp key distribution.")
	summaryFile := flag.String("summary", "", "If set, write per-second summaries to this yaml/json file.")
	cfgFile := flag.String("cfg", "", "Read the whole experiment description from this yaml/json file.")
	verbose := flag.Bool("v", false, "Debug logging.")

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var cfg *treesim.SimCfg
	if len(*cfgFile) > 0 {
		ext := path.Ext(*cfgFile)
		useYAML := (ext == ".yaml") || (ext == ".yml")

		var err error
		cfg, err = treesim.ReadSimCfg(*cfgFile, useYAML, nil)
		if err != nil {
			logrus.Fatalf("reading %s: %v", *cfgFile, err)
		}
	} else {
		cfg = treesim.DfltSimCfg()
		cfg.NRacks = *nracks
		cfg.NodesPerRack = *nodesPerRack
		cfg.Fanout = *fanout
		cfg.MultiTree = *multitree
		cfg.MsgRate = *msgRate
		cfg.MsgSize = *msgSize
		cfg.GCPolicy = *gcPolicy
		cfg.GCPeriod = *gcPeriod
		cfg.GCLevels = *gcLevels
		cfg.GCAccDelay = *gcAccDelay
		cfg.InLimit = *inLimit
		cfg.OutLimit = *outLimit
		cfg.InLimitRoot = *inLimitRoot
		cfg.OutLimitRoot = *outLimitRoot
		cfg.Duration = *duration
		cfg.Ticks = *ticks
		cfg.NThreads = *nthreads
		cfg.KeySource = *keySource
		cfg.KeyDir = *keyDir
		cfg.KeyBuf = *keyBuf
		cfg.KeySpace = *keySpace
		cfg.KeySkew = *keySkew
		cfg.SummaryFile = *summaryFile
	}

	sum := treesim.CreateSummaryManager(cfg.Name, len(cfg.SummaryFile) > 0)

	ex, err := treesim.BuildExperiment(cfg, nil, sum)
	if err != nil {
		logrus.Fatalf("building experiment: %v", err)
	}

	if err := ex.Run(); err != nil {
		logrus.Fatalf("run aborted: %v", err)
	}

	if sum.Active() {
		sum.WriteToFile(cfg.SummaryFile)
	}
}
