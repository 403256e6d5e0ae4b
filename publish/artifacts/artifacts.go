// Package artifacts loads compiled contract artifacts in the hardhat JSON
// layout and encodes calls against their ABI.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/afero"
)

var ErrArtifactNotFound = errors.New("artifact not found")

type Artifact struct {
	Name     string
	ABI      abi.ABI
	RawABI   json.RawMessage
	Bytecode []byte
}

type artifactJSON struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Source resolves artifacts by contract name.
type Source interface {
	Artifact(name string) (*Artifact, error)
}

// Dir reads <Root>/<name>.json from Fs.
type Dir struct {
	Fs   afero.Fs
	Root string
}

func NewDir(fs afero.Fs, root string) *Dir {
	return &Dir{Fs: fs, Root: root}
}

func (d *Dir) Artifact(name string) (*Artifact, error) {
	return Load(d.Fs, d.Root, name)
}

func Load(fs afero.Fs, dir, name string) (*Artifact, error) {
	path := filepath.Join(dir, name+".json")
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrArtifactNotFound, name, path)
		}
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return Parse(name, data)
}

func Parse(name string, data []byte) (*Artifact, error) {
	var raw artifactJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", name, err)
	}
	if raw.ContractName != "" && raw.ContractName != name {
		return nil, fmt.Errorf("artifact %s declares contract %s", name, raw.ContractName)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi of %s: %w", name, err)
	}
	bytecode, err := decodeHex(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode of %s: %w", name, err)
	}
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("artifact %s has no bytecode", name)
	}
	return &Artifact{
		Name:     name,
		ABI:      parsed,
		RawABI:   raw.ABI,
		Bytecode: bytecode,
	}, nil
}

// Constructor returns the creation code followed by the encoded constructor
// arguments.
func (a *Artifact) Constructor(args ...any) ([]byte, error) {
	encoded, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s constructor: %w", a.Name, err)
	}
	out := make([]byte, 0, len(a.Bytecode)+len(encoded))
	out = append(out, a.Bytecode...)
	return append(out, encoded...), nil
}

// BytecodeHash identifies the creation code independently of constructor
// arguments.
func (a *Artifact) BytecodeHash() string {
	return crypto.Keccak256Hash(a.Bytecode).Hex()
}

func (a *Artifact) Pack(method string, args ...any) ([]byte, error) {
	if _, ok := a.ABI.Methods[method]; !ok {
		return nil, fmt.Errorf("%s has no method %s", a.Name, method)
	}
	data, err := a.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s.%s: %w", a.Name, method, err)
	}
	return data, nil
}

func (a *Artifact) Unpack(method string, data []byte) ([]any, error) {
	out, err := a.ABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s.%s: %w", a.Name, method, err)
	}
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
