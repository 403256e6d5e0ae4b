// Package records persists named deployment records across runs.
//
// The on-disk layout follows the hardhat-deploy convention so existing
// deployment folders can be read directly:
//
//	<root>/<network>/.chainId
//	<root>/<network>/<Name>.json
package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spf13/afero"
)

var ErrNotFound = errors.New("deployment record not found")

// Quantity is a receipt number. It decodes from a JSON number, a decimal
// string (hardhat-deploy gas values) or a 0x-prefixed hex string.
type Quantity uint64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	v, ok := math.ParseUint64(s)
	if !ok {
		return fmt.Errorf("invalid quantity %s", data)
	}
	*q = Quantity(v)
	return nil
}

type Receipt struct {
	BlockNumber       Quantity `json:"blockNumber"`
	GasUsed           Quantity `json:"gasUsed"`
	CumulativeGasUsed Quantity `json:"cumulativeGasUsed,omitempty"`
	Status            Quantity `json:"status"`
}

// Args holds constructor arguments as text. Strings are kept as they are and
// any other JSON value (numbers, arrays, objects) is kept as compact JSON.
type Args []string

func (a *Args) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*a = nil
		return nil
	}
	out := make(Args, len(raw))
	for i, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[i] = s
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return err
		}
		out[i] = buf.String()
	}
	*a = out
	return nil
}

type Record struct {
	Address         common.Address  `json:"address"`
	ABI             json.RawMessage `json:"abi,omitempty"`
	TransactionHash common.Hash     `json:"transactionHash"`
	Receipt         *Receipt        `json:"receipt,omitempty"`
	Args            Args            `json:"args"`
	BytecodeHash    string          `json:"bytecodeHash,omitempty"`
	DeployedAt      time.Time       `json:"deployedAt"`
}

type Store interface {
	Get(name string) (Record, error)
	Put(name string, rec Record) error
	List() ([]string, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (m *MemoryStore) Get(name string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, nil
}

func (m *MemoryStore) Put(name string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[name] = rec
	return nil
}

func (m *MemoryStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

const chainIDFile = ".chainId"

type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore opens <root>/<network>, creating it and its .chainId marker
// when missing. An existing marker must match chainID.
func NewFileStore(fs afero.Fs, root, network string, chainID int64) (*FileStore, error) {
	if strings.TrimSpace(network) == "" {
		return nil, errors.New("network name is required")
	}
	dir := filepath.Join(root, network)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	found, err := checkChainID(fs, dir, network, chainID)
	if err != nil {
		return nil, err
	}
	if !found {
		marker := filepath.Join(dir, chainIDFile)
		if err := afero.WriteFile(fs, marker, []byte(strconv.FormatInt(chainID, 10)), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", marker, err)
		}
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

// OpenFileStore opens <root>/<network> for reading without creating
// anything. A missing directory reads as an empty store.
func OpenFileStore(fs afero.Fs, root, network string, chainID int64) (*FileStore, error) {
	if strings.TrimSpace(network) == "" {
		return nil, errors.New("network name is required")
	}
	dir := filepath.Join(root, network)
	if _, err := checkChainID(fs, dir, network, chainID); err != nil {
		return nil, err
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

// checkChainID compares the .chainId marker in dir with chainID and reports
// whether a marker was present.
func checkChainID(fs afero.Fs, dir, network string, chainID int64) (bool, error) {
	marker := filepath.Join(dir, chainIDFile)
	data, err := afero.ReadFile(fs, marker)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("read %s: %w", marker, err)
	}
	stored, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", marker, err)
	}
	if stored != chainID {
		return false, fmt.Errorf("deployments for %s belong to chain %d, not %d", network, stored, chainID)
	}
	return true, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) Get(name string) (Record, error) {
	data, err := afero.ReadFile(f.fs, f.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Record{}, fmt.Errorf("read record %s: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parse record %s: %w", name, err)
	}
	return rec, nil
}

// Put writes through a temp file and renames it into place.
func (f *FileStore) Put(name string, rec Record) error {
	blob, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", name, err)
	}
	tmp := f.path(name) + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", name, err)
	}
	if err := f.fs.Rename(tmp, f.path(name)); err != nil {
		return fmt.Errorf("commit record %s: %w", name, err)
	}
	return nil
}

func (f *FileStore) List() ([]string, error) {
	entries, err := afero.ReadDir(f.fs, f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
