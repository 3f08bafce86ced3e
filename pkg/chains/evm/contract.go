// Copyright 2025 Certen Protocol
//
// Blueprint services contract binding for EVM chains.

package evm

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// contractABIJSON is the subset of the services contract the adapter uses.
const contractABIJSON = `[
  {"type":"event","name":"JobCalled","inputs":[
    {"name":"serviceId","type":"uint64","indexed":true},
    {"name":"job","type":"uint8","indexed":false},
    {"name":"callId","type":"uint64","indexed":false},
    {"name":"inputs","type":"bytes","indexed":false}]},
  {"type":"function","name":"submitResult","stateMutability":"nonpayable","inputs":[
    {"name":"serviceId","type":"uint64"},
    {"name":"callId","type":"uint64"},
    {"name":"result","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"heartbeat","stateMutability":"nonpayable","inputs":[
    {"name":"serviceId","type":"uint64"},
    {"name":"payload","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"operatorsOf","stateMutability":"view","inputs":[
    {"name":"blueprintId","type":"uint64"}],"outputs":[
    {"name":"accounts","type":"address[]"},
    {"name":"keys","type":"bytes[]"}]}
]`

var (
	abiOnce     sync.Once
	contractABI abi.ABI
)

func servicesABI() abi.ABI {
	abiOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(contractABIJSON))
		if err != nil {
			panic("invalid services contract ABI: " + err.Error())
		}
		contractABI = parsed
	})
	return contractABI
}
