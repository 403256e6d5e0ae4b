package deploymentstest

import (
	"fmt"
	"strings"

	"github.com/maidcoingit/maidcoin/publish/artifacts"
)

const ownableABI = `[
  {"type":"constructor","inputs":[%s]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"transferOwnership","stateMutability":"nonpayable",
   "inputs":[{"name":"newOwner","type":"address"}],"outputs":[]}
]`

// OwnableArtifact builds an artifact for an Ownable contract whose
// constructor takes the given number of address arguments.
func OwnableArtifact(name string, addressArgs int, bytecode string) *artifacts.Artifact {
	inputs := make([]string, addressArgs)
	for i := range inputs {
		inputs[i] = fmt.Sprintf(`{"name":"arg%d","type":"address"}`, i)
	}
	data := fmt.Sprintf(`{"contractName":%q,"abi":%s,"bytecode":%q}`,
		name, fmt.Sprintf(ownableABI, strings.Join(inputs, ",")), bytecode)
	art, err := artifacts.Parse(name, []byte(data))
	if err != nil {
		panic(err)
	}
	return art
}

// Source serves artifacts from memory.
type Source map[string]*artifacts.Artifact

func (s Source) Artifact(name string) (*artifacts.Artifact, error) {
	art, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", artifacts.ErrArtifactNotFound, name)
	}
	return art, nil
}
