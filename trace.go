package treesim

// trace.go holds the summary manager, which gathers the per-second hub
// summaries of a run for post-run analysis.  By testing its active flag
// we can inhibit the gathering when we don't want it, while embedding
// calls to its methods everywhere we need them when it is.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// NameType is an entry in a dictionary created for a summary file that
// maps node id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// SummaryInst is one hub's numbers for one reported second
type SummaryInst struct {
	Sec    int64   `json:"sec" yaml:"sec"`
	Node   int     `json:"node" yaml:"node"`
	InMB   float64 `json:"inmb" yaml:"inmb"`
	OutMB  float64 `json:"outmb" yaml:"outmb"`
	EffMB  float64 `json:"effmb" yaml:"effmb"`
	InPct  float64 `json:"inpct" yaml:"inpct"`
	OutPct float64 `json:"outpct" yaml:"outpct"`
}

// SummaryManager gathers information about an experiment and the
// per-second measurements of an execution of it
type SummaryManager struct {
	// experiment gathers summaries
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// unique identifier for this execution
	ExpID string `json:"expid" yaml:"expid"`

	// text name associated with each node id
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all summary records for this experiment, keyed by node id
	Summaries map[int][]SummaryInst `json:"summaries" yaml:"summaries"`
}

// CreateSummaryManager is a constructor.  It saves the name of the
// experiment, stamps the execution with a fresh identifier, and saves a
// flag indicating whether the manager is active.
func CreateSummaryManager(expName string, active bool) *SummaryManager {
	sm := new(SummaryManager)
	sm.InUse = active
	sm.ExpName = expName
	sm.ExpID = uuid.NewString()
	sm.NameByID = make(map[int]NameType)
	sm.Summaries = make(map[int][]SummaryInst)
	return sm
}

// Active tells the caller whether the summary manager is being used
func (sm *SummaryManager) Active() bool {
	return sm.InUse
}

// AddName is used to add an element to the id -> (name,type)
// dictionary for the summary file
func (sm *SummaryManager) AddName(id int, name string, objDesc string) {
	if sm.InUse {
		_, present := sm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		sm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// AddSummary records one hub's numbers for one second
func (sm *SummaryManager) AddSummary(sec int64, node int, inMB, outMB, effMB, inPct, outPct float64) {
	if !sm.InUse {
		return
	}

	_, present := sm.Summaries[node]
	if !present {
		sm.Summaries[node] = make([]SummaryInst, 0)
	}
	sm.Summaries[node] = append(sm.Summaries[node],
		SummaryInst{Sec: sec, Node: node, InMB: inMB, OutMB: outMB, EffMB: effMB, InPct: inPct, OutPct: outPct})
}

// WriteToFile stores the gathered summaries to the file whose name is
// given.  Serialization to json or to yaml is selected based on the
// extension of this name.
func (sm *SummaryManager) WriteToFile(filename string) bool {
	if !sm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*sm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*sm, "", "\t")
	} else {
		merr = fmt.Errorf("unrecognized summary file extension %s", pathExt)
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
	return true
}
