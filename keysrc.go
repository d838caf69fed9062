package treesim

// keysrc.go holds the key sources that feed message generation.  The
// simulator never interprets keys beyond equality, so the source fully
// controls the key distribution and with it the coalescing opportunity.
//
// All sources deal keys deterministically per node: the file source
// stripes the shared input sequence across nodes in fixed blocks, and
// the random source gives every node its own named generator stream.
// Per-tick counters therefore do not depend on how the driver's workers
// are scheduled.

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/iti/rngstream"
)

// KeySource delivers the keys a node stamps on the messages it
// generates.  Implementations are safe for concurrent use by the
// driver's workers.
type KeySource interface {
	// NextKey returns the next key for the named node
	NextKey(node int) (int64, error)

	// NextKeys returns the node's next n keys
	NextKeys(node int, n int) ([]int64, error)
}

// key source selector values accepted in configuration
const (
	KeySrcFile    = "file"
	KeySrcUniform = "uniform"
	KeySrcExp     = "exp"
	KeySrcConst   = "const"
)

// CreateKeySource builds the key source the configuration selects
func CreateKeySource(cfg *SimCfg, nnodes int) (KeySource, error) {
	switch cfg.KeySource {
	case KeySrcFile:
		stripe := cfg.MsgRate / int(cfg.Ticks)
		if stripe < 1 {
			stripe = 1
		}
		return CreateFileKeySource(cfg.KeyDir, nnodes, stripe, cfg.KeyBuf)
	case KeySrcUniform:
		return CreateRandKeySource(nnodes, cfg.KeySpace, KeySrcUniform, cfg.KeySkew), nil
	case KeySrcExp:
		return CreateRandKeySource(nnodes, cfg.KeySpace, KeySrcExp, cfg.KeySkew), nil
	case KeySrcConst:
		return CreateConstKeySource(cfg.KeySpace), nil
	}
	return nil, fmt.Errorf("%w: unknown key source %q", ErrConfig, cfg.KeySource)
}

// FileKeySource reads whitespace-separated non-negative int64 ASCII
// keys from files named data-0, data-1, ... in a directory, in file
// order, on demand.  One mutex guards the shared scanner state.  The
// sequence is dealt to nodes in fixed stripes (block g belongs to node
// g mod nnodes) so that the key a node sees never depends on worker
// scheduling.
type FileKeySource struct {
	mu sync.Mutex

	dir     string
	nnodes  int
	stripe  int // keys per dealt block
	bufSize int // scanner buffer, bytes

	reserve [][]int64 // dealt but unconsumed keys, per node
	nxtBlk  int       // owner of the next block is nxtBlk mod nnodes

	f       *os.File
	scan    *bufio.Scanner
	fileIdx int
	drained bool
}

// CreateFileKeySource is a constructor.  It fails if the first data
// file is missing, so a bad key directory is reported before the
// simulation starts.
func CreateFileKeySource(dir string, nnodes, stripe, bufSize int) (*FileKeySource, error) {
	ks := new(FileKeySource)
	ks.dir = dir
	ks.nnodes = nnodes
	ks.stripe = stripe
	ks.bufSize = bufSize
	ks.reserve = make([][]int64, nnodes)

	if err := ks.openNext(); err != nil {
		return nil, err
	}
	return ks, nil
}

// openNext opens the next data file in sequence and points the scanner
// at it.  The first file must exist; running past the last marks the
// source drained.
func (ks *FileKeySource) openNext() error {
	if ks.f != nil {
		ks.f.Close()
		ks.f = nil
	}

	name := filepath.Join(ks.dir, fmt.Sprintf("data-%d", ks.fileIdx))
	f, err := os.Open(name)
	if err != nil {
		if ks.fileIdx == 0 {
			return fmt.Errorf("%w: missing key data file %s", ErrKeySource, name)
		}
		ks.drained = true
		return nil
	}
	ks.fileIdx++

	ks.f = f
	ks.scan = bufio.NewScanner(f)
	ks.scan.Buffer(make([]byte, ks.bufSize), ks.bufSize)
	ks.scan.Split(bufio.ScanWords)
	return nil
}

// readKey pulls the next raw key off the file sequence.  Callers hold
// the mutex.
func (ks *FileKeySource) readKey() (int64, error) {
	for !ks.drained && !ks.scan.Scan() {
		if err := ks.scan.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrKeySource, err)
		}
		if err := ks.openNext(); err != nil {
			return 0, err
		}
	}
	if ks.drained {
		return 0, fmt.Errorf("%w: key input truncated after %d files", ErrKeySource, ks.fileIdx)
	}

	key, err := strconv.ParseInt(ks.scan.Text(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrKeySource, err)
	}
	if key < 0 {
		return 0, fmt.Errorf("%w: negative key %d", ErrKeySource, key)
	}
	return key, nil
}

// deal reads one stripe off the file sequence and appends it to the
// reserve of the node that owns the next block.  Callers hold the
// mutex.
func (ks *FileKeySource) deal() error {
	owner := ks.nxtBlk % ks.nnodes
	for j := 0; j < ks.stripe; j++ {
		key, err := ks.readKey()
		if err != nil {
			return err
		}
		ks.reserve[owner] = append(ks.reserve[owner], key)
	}
	ks.nxtBlk++
	return nil
}

// NextKey returns the next key for the named node
func (ks *FileKeySource) NextKey(node int) (int64, error) {
	keys, err := ks.NextKeys(node, 1)
	if err != nil {
		return 0, err
	}
	return keys[0], nil
}

// NextKeys returns the node's next n keys, dealing further stripes off
// the shared sequence as needed
func (ks *FileKeySource) NextKeys(node int, n int) ([]int64, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	for len(ks.reserve[node]) < n {
		if err := ks.deal(); err != nil {
			return nil, err
		}
	}
	keys := make([]int64, n)
	copy(keys, ks.reserve[node][0:n])
	ks.reserve[node] = ks.reserve[node][n:]
	return keys, nil
}

// RandKeySource draws synthetic keys from a per-node random number
// stream.  Streams are named by node, so two runs (and any worker
// schedule) see identical key sequences.  The exponential variant
// skews mass toward low keys, which creates coalescing opportunity the
// uniform variant mostly lacks.
type RandKeySource struct {
	streams  []*rngstream.RngStream
	keySpace int64
	dist     string
	rate     float64
}

// CreateRandKeySource is a constructor
func CreateRandKeySource(nnodes int, keySpace int64, dist string, rate float64) *RandKeySource {
	ks := new(RandKeySource)
	ks.keySpace = keySpace
	ks.dist = dist
	ks.rate = rate
	ks.streams = make([]*rngstream.RngStream, nnodes)
	for i := 0; i < nnodes; i++ {
		ks.streams[i] = rngstream.New(fmt.Sprintf("keysrc-%d", i))
	}
	return ks
}

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// NextKey returns the next key for the named node
func (ks *RandKeySource) NextKey(node int) (int64, error) {
	u := ks.streams[node].RandU01()

	var key int64
	switch ks.dist {
	case KeySrcExp:
		key = int64(expRV(u, ks.rate) * float64(ks.keySpace) / 8.0)
	default:
		key = int64(u * float64(ks.keySpace))
	}

	if key >= ks.keySpace {
		key = ks.keySpace - 1
	}
	return key, nil
}

// NextKeys returns the node's next n keys
func (ks *RandKeySource) NextKeys(node int, n int) ([]int64, error) {
	keys := make([]int64, n)
	for j := 0; j < n; j++ {
		keys[j], _ = ks.NextKey(node)
	}
	return keys, nil
}

// ConstKeySource repeats one key forever.  Every message collides, so
// coalescing behavior is easy to reason about in tests.
type ConstKeySource struct {
	key int64
}

// CreateConstKeySource is a constructor
func CreateConstKeySource(key int64) *ConstKeySource {
	return &ConstKeySource{key: key}
}

// NextKey returns the constant key
func (ks *ConstKeySource) NextKey(node int) (int64, error) {
	return ks.key, nil
}

// NextKeys returns n copies of the constant key
func (ks *ConstKeySource) NextKeys(node int, n int) ([]int64, error) {
	keys := make([]int64, n)
	for j := 0; j < n; j++ {
		keys[j] = ks.key
	}
	return keys, nil
}
