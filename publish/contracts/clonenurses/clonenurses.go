package clonenurses

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/maidcoingit/maidcoin/publish/records"
)

const (
	name         = "CloneNurses"
	NursePart    = "NursePart"
	MaidCoin     = "MaidCoin"
	TheMaster    = "TheMaster"
	MaidCafe     = "MaidCafe"
	ImplGasLimit = 0 // estimated
)

// Dependencies lists the records the constructor reads, in argument order.
var Dependencies = []string{NursePart, MaidCoin, TheMaster, MaidCafe}

type ConstructorArgs struct {
	NursePart common.Address
	MaidCoin  common.Address
	TheMaster common.Address
	MaidCafe  common.Address
}

func Name() string { return name }

// Values returns the arguments in constructor order.
func (a ConstructorArgs) Values() []any {
	return []any{a.NursePart, a.MaidCoin, a.TheMaster, a.MaidCafe}
}

// ResolveConstructorArgs looks up every dependency through get and stops at
// the first missing one.
func ResolveConstructorArgs(get func(name string) (records.Record, error)) (ConstructorArgs, error) {
	addrs := make([]common.Address, len(Dependencies))
	for i, dep := range Dependencies {
		rec, err := get(dep)
		if err != nil {
			return ConstructorArgs{}, fmt.Errorf("resolve %s dependency: %w", name, err)
		}
		addrs[i] = rec.Address
	}
	return ConstructorArgs{
		NursePart: addrs[0],
		MaidCoin:  addrs[1],
		TheMaster: addrs[2],
		MaidCafe:  addrs[3],
	}, nil
}
