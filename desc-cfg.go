package treesim

// desc-cfg.go holds the serializable description of an experiment.  The
// SimCfg struct mirrors the command-line flags one for one, so an
// experiment can equally be described by a yaml or json file and
// replayed exactly.  Serialization format is selected by the file name
// extension, and the struct is fully instantiated without pointers so
// that it round-trips cleanly.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// coalescing policy selectors
const (
	gcPolicyNone = iota
	gcPolicyFlat
	gcPolicyRootHeavy
	gcPolicyLeafHeavy
	gcPolicyTopFlat
	gcPolicyTopRootHeavy
	gcPolicyTopLeafHeavy
)

// A SimCfg describes one experiment: the rack population, the tree
// shape, the traffic and coalescing parameters, and the bandwidth
// budget.  Limits are bytes per second; the per-tick budget is the
// limit divided by the tick rate.
type SimCfg struct {
	Name string `json:"name" yaml:"name"`

	NRacks       int  `json:"nracks" yaml:"nracks"`
	NodesPerRack int  `json:"nodesperrack" yaml:"nodesperrack"`
	Fanout       int  `json:"fanout" yaml:"fanout"`
	MultiTree    bool `json:"multitree" yaml:"multitree"`

	MsgRate int   `json:"msgrate" yaml:"msgrate"`
	MsgSize int64 `json:"msgsize" yaml:"msgsize"`

	GCPolicy   int   `json:"gcpolicy" yaml:"gcpolicy"`
	GCPeriod   int64 `json:"gcperiod" yaml:"gcperiod"`
	GCLevels   int   `json:"gclevels" yaml:"gclevels"`
	GCAccDelay int64 `json:"gcaccdelay" yaml:"gcaccdelay"`

	InLimit      int64 `json:"inlimit" yaml:"inlimit"`
	OutLimit     int64 `json:"outlimit" yaml:"outlimit"`
	InLimitRoot  int64 `json:"inlimitroot" yaml:"inlimitroot"`
	OutLimitRoot int64 `json:"outlimitroot" yaml:"outlimitroot"`

	Duration int64 `json:"duration" yaml:"duration"`
	Ticks    int64 `json:"ticks" yaml:"ticks"`
	NThreads int   `json:"nthreads" yaml:"nthreads"`

	KeySource string  `json:"keysource" yaml:"keysource"`
	KeyDir    string  `json:"keydir" yaml:"keydir"`
	KeyBuf    int     `json:"keybuf" yaml:"keybuf"`
	KeySpace  int64   `json:"keyspace" yaml:"keyspace"`
	KeySkew   float64 `json:"keyskew" yaml:"keyskew"`

	SummaryFile string `json:"summaryfile" yaml:"summaryfile"`
}

// DfltSimCfg returns a configuration holding every default
func DfltSimCfg() *SimCfg {
	cfg := new(SimCfg)
	cfg.Name = "treesim"
	cfg.NRacks = 1
	cfg.NodesPerRack = 1
	cfg.Fanout = 2
	cfg.MsgRate = 4000
	cfg.MsgSize = 32
	cfg.GCPolicy = gcPolicyNone
	cfg.GCPeriod = 10
	cfg.GCLevels = 10
	cfg.GCAccDelay = 100
	cfg.InLimit = 125_000_000
	cfg.OutLimit = 125_000_000
	cfg.Duration = 60
	cfg.Ticks = 1000
	cfg.NThreads = 1
	cfg.KeySource = KeySrcUniform
	cfg.KeyDir = "."
	cfg.KeyBuf = 1 << 16
	cfg.KeySpace = 1 << 20
	cfg.KeySkew = 4.0
	return cfg
}

// TreeCount returns the number of trees the configuration calls for
func (cfg *SimCfg) TreeCount() int {
	if !cfg.MultiTree {
		return 1
	}
	k := cfg.Fanout - 1
	if k < 2 {
		k = 2
	}
	return k
}

// TotalNodes returns the node population size
func (cfg *SimCfg) TotalNodes() int {
	return cfg.NRacks * cfg.NodesPerRack
}

// TotalTicks returns the length of the run in ticks
func (cfg *SimCfg) TotalTicks() int64 {
	return cfg.Duration * cfg.Ticks
}

// MsgsPerTick returns the per-node generation rate in messages per tick
func (cfg *SimCfg) MsgsPerTick() int {
	return cfg.MsgRate / int(cfg.Ticks)
}

// rootInLimit returns the inbound limit at a tree root; zero means the
// root inherits the common limit
func (cfg *SimCfg) rootInLimit() int64 {
	if cfg.InLimitRoot > 0 {
		return cfg.InLimitRoot
	}
	return cfg.InLimit
}

// rootOutLimit returns the outbound limit at a tree root
func (cfg *SimCfg) rootOutLimit() int64 {
	if cfg.OutLimitRoot > 0 {
		return cfg.OutLimitRoot
	}
	return cfg.OutLimit
}

// validate checks the configuration before any structure is built,
// reporting every problem found rather than just the first
func (cfg *SimCfg) validate() error {
	errList := []error{}
	bad := func(form string, args ...any) {
		errList = append(errList, fmt.Errorf("%w: "+form, append([]any{ErrConfig}, args...)...))
	}

	if cfg.NRacks < 1 {
		bad("nracks %d, need at least 1", cfg.NRacks)
	}
	if cfg.NodesPerRack < 1 {
		bad("nodes_per_rack %d, need at least 1", cfg.NodesPerRack)
	}
	if cfg.Fanout < 1 {
		bad("fanout %d, need at least 1", cfg.Fanout)
	}
	if cfg.MsgRate < 0 {
		bad("msg_rate %d is negative", cfg.MsgRate)
	}
	if cfg.MsgSize < 1 {
		bad("msg_size %d, need at least 1 byte", cfg.MsgSize)
	}
	if cfg.GCPolicy < gcPolicyNone || cfg.GCPolicy > gcPolicyTopLeafHeavy {
		bad("gc_policy %d outside 0..6", cfg.GCPolicy)
	}
	if cfg.GCPeriod < 1 {
		bad("gc_period %d, need at least 1 tick", cfg.GCPeriod)
	}
	if cfg.GCLevels < 1 {
		bad("gc_levels %d, need at least 1", cfg.GCLevels)
	}
	if cfg.GCAccDelay < 0 {
		bad("gc_acc_delay %d is negative", cfg.GCAccDelay)
	}
	if cfg.InLimit < 1 || cfg.OutLimit < 1 {
		bad("bandwidth limits %d/%d, need at least 1", cfg.InLimit, cfg.OutLimit)
	}
	if cfg.Duration < 1 {
		bad("duration %d, need at least 1 second", cfg.Duration)
	}
	if cfg.Ticks < 1 {
		bad("ticks %d, need at least 1 per second", cfg.Ticks)
	} else {
		if cfg.InLimit/cfg.Ticks < 1 || cfg.OutLimit/cfg.Ticks < 1 {
			bad("per-tick budget of limits %d/%d over %d ticks is below one byte",
				cfg.InLimit, cfg.OutLimit, cfg.Ticks)
		}
		if cfg.rootInLimit()/cfg.Ticks < 1 || cfg.rootOutLimit()/cfg.Ticks < 1 {
			bad("per-tick budget of root limits %d/%d over %d ticks is below one byte",
				cfg.rootInLimit(), cfg.rootOutLimit(), cfg.Ticks)
		}
	}
	if cfg.NThreads < 1 {
		bad("nthreads %d, need at least 1", cfg.NThreads)
	}
	srcs := []string{KeySrcFile, KeySrcUniform, KeySrcExp, KeySrcConst}
	if !slices.Contains(srcs, cfg.KeySource) {
		bad("key source %q not one of %v", cfg.KeySource, srcs)
	}
	if cfg.KeySpace < 1 {
		bad("key_space %d, need at least 1", cfg.KeySpace)
	}
	if cfg.KeyBuf < 64 {
		bad("key_buf %d, need at least 64 bytes", cfg.KeyBuf)
	}

	return ReportErrs(errList)
}

// WriteToFile stores the SimCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension
// of this name.
func (cfg *SimCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*cfg)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()

	return werr
}

// ReadSimCfg deserializes a byte slice holding a representation of a
// SimCfg struct.  If the input argument of dict (those bytes) is empty,
// the file whose name is given is read to acquire them.  A deserialized
// representation is returned, or an error if one is generated from a
// file read or the deserialization.
func ReadSimCfg(filename string, useYAML bool, dict []byte) (*SimCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := SimCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}
