// Package cosmwasm is the main entry point to this library. A VM manages
// contract code in a self-contained directory and executes entry points of
// stored contracts against caller-supplied storage and querier.
package cosmwasm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/CosmWasm/wasmvm-go/types"
	"github.com/CosmWasm/wasmvm-go/vm"
)

// WasmCode is an alias for raw bytes of the wasm compiled code
type WasmCode []byte

// KVStore is a reference to some sub-kvstore that is valid for one instance of a code
type KVStore = types.KVStore

// GoAPI is a reference to some "precompiles", go callbacks
type GoAPI = types.GoAPI

// Querier lets us make read-only queries on other modules
type Querier = types.Querier

// VM manages the contract code cache and executes contracts. Create one
// instance with its own subdirectory to manage state inside, and call it
// for all wasm code related actions.
type VM struct {
	cache *vm.Cache
}

// NewVM sets up a VM under options.BaseDir. A nil logger disables logging.
func NewVM(options types.CacheOptions, logger *zap.Logger) (*VM, error) {
	cache, err := vm.NewCache(options, logger)
	if err != nil {
		return nil, err
	}
	return &VM{cache: cache}, nil
}

// Cleanup should be called when no longer using this VM to free all
// resources held by the cache.
func (v *VM) Cleanup() {
	_ = v.cache.Close()
}

// Create validates the wasm code and stores it, returning the checksum
// under which it can be instantiated from now on. This must be done one
// time for given code, after which it can be instantiated many times.
func (v *VM) Create(code WasmCode) (types.Checksum, error) {
	return v.cache.SaveWasm(code)
}

// GetCode loads the original wasm code for the given checksum. This will
// only succeed if that checksum was previously returned from a call to
// Create.
func (v *VM) GetCode(checksum types.Checksum) (WasmCode, error) {
	return v.cache.LoadWasm(checksum)
}

// RemoveCode deletes the code and all derived artifacts from the cache.
func (v *VM) RemoveCode(checksum types.Checksum) error {
	return v.cache.RemoveWasm(checksum)
}

// Stats reports cache effectiveness counters.
func (v *VM) Stats() vm.Stats {
	return v.cache.Stats()
}

// Instantiate calls the init entry point of the contract ("genesis"),
// returning its response on success. gasLimit bounds the whole call; the
// returned gas usage is reported even when the call fails.
//
// Storage should be set with a PrefixedKVStore that this code can safely
// access.
func (v *VM) Instantiate(
	checksum types.Checksum,
	env types.Env,
	info types.MessageInfo,
	initMsg []byte,
	store KVStore,
	goapi GoAPI,
	querier Querier,
	gasLimit uint64,
) (*types.Response, uint64, error) {
	data, gasUsed, err := v.callThreeArgs(checksum, "init", env, info, initMsg, store, goapi, querier, gasLimit)
	if err != nil {
		return nil, gasUsed, err
	}
	return unpackResult(data, gasUsed)
}

// Execute calls the handle entry point on an instantiated contract.
func (v *VM) Execute(
	checksum types.Checksum,
	env types.Env,
	info types.MessageInfo,
	executeMsg []byte,
	store KVStore,
	goapi GoAPI,
	querier Querier,
	gasLimit uint64,
) (*types.Response, uint64, error) {
	data, gasUsed, err := v.callThreeArgs(checksum, "handle", env, info, executeMsg, store, goapi, querier, gasLimit)
	if err != nil {
		return nil, gasUsed, err
	}
	return unpackResult(data, gasUsed)
}

// Migrate calls the optional migrate entry point, allowing a contract to
// move its state to a new code version.
func (v *VM) Migrate(
	checksum types.Checksum,
	env types.Env,
	info types.MessageInfo,
	migrateMsg []byte,
	store KVStore,
	goapi GoAPI,
	querier Querier,
	gasLimit uint64,
) (*types.Response, uint64, error) {
	data, gasUsed, err := v.callThreeArgs(checksum, "migrate", env, info, migrateMsg, store, goapi, querier, gasLimit)
	if err != nil {
		return nil, gasUsed, err
	}
	return unpackResult(data, gasUsed)
}

// Query calls the query entry point. State writes are rejected for the
// whole call; the raw response document produced by the contract is
// returned.
func (v *VM) Query(
	checksum types.Checksum,
	env types.Env,
	queryMsg []byte,
	store KVStore,
	goapi GoAPI,
	querier Querier,
	gasLimit uint64,
) ([]byte, uint64, error) {
	envBin, err := json.Marshal(env)
	if err != nil {
		return nil, 0, err
	}

	inst, err := v.cache.GetInstance(checksum, store, querier, goapi, gasLimit)
	if err != nil {
		return nil, 0, err
	}
	data, err := inst.CallQuery(context.Background(), envBin, queryMsg)
	gasUsed := gasUsedOf(inst)
	v.cache.StoreInstance(inst)
	if err != nil {
		return nil, gasUsed, err
	}

	var resp types.QueryResult
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, gasUsed, err
	}
	if resp.Err != "" {
		return nil, gasUsed, fmt.Errorf("%s", resp.Err)
	}
	return resp.Ok, gasUsed, nil
}

// Reply delivers the outcome of a submessage to the optional reply entry
// point.
func (v *VM) Reply(
	checksum types.Checksum,
	env types.Env,
	reply types.Reply,
	store KVStore,
	goapi GoAPI,
	querier Querier,
	gasLimit uint64,
) (*types.Response, uint64, error) {
	envBin, err := json.Marshal(env)
	if err != nil {
		return nil, 0, err
	}
	replyBin, err := json.Marshal(reply)
	if err != nil {
		return nil, 0, err
	}

	inst, err := v.cache.GetInstance(checksum, store, querier, goapi, gasLimit)
	if err != nil {
		return nil, 0, err
	}
	data, err := inst.CallReply(context.Background(), envBin, replyBin)
	gasUsed := gasUsedOf(inst)
	v.cache.StoreInstance(inst)
	if err != nil {
		return nil, gasUsed, err
	}
	return unpackResult(data, gasUsed)
}

// callThreeArgs runs one of the (env, info, msg) entry points with the
// shared marshal-call-recycle plumbing.
func (v *VM) callThreeArgs(
	checksum types.Checksum,
	name string,
	env types.Env,
	info types.MessageInfo,
	msg []byte,
	store KVStore,
	goapi GoAPI,
	querier Querier,
	gasLimit uint64,
) ([]byte, uint64, error) {
	envBin, err := json.Marshal(env)
	if err != nil {
		return nil, 0, err
	}
	infoBin, err := json.Marshal(info)
	if err != nil {
		return nil, 0, err
	}

	inst, err := v.cache.GetInstance(checksum, store, querier, goapi, gasLimit)
	if err != nil {
		return nil, 0, err
	}

	ctx := context.Background()
	var data []byte
	switch name {
	case "init":
		data, err = inst.CallInit(ctx, envBin, infoBin, msg)
	case "handle":
		data, err = inst.CallHandle(ctx, envBin, infoBin, msg)
	case "migrate":
		data, err = inst.CallMigrate(ctx, envBin, infoBin, msg)
	default:
		panic("unknown entry point " + name)
	}
	gasUsed := gasUsedOf(inst)
	v.cache.StoreInstance(inst)
	return data, gasUsed, err
}

func gasUsedOf(inst *vm.Instance) uint64 {
	report := inst.GasReport()
	return report.Limit - report.Remaining
}

// unpackResult parses a contract result envelope, converting a
// contract-level error string into a Go error.
func unpackResult(data []byte, gasUsed uint64) (*types.Response, uint64, error) {
	var resp types.ContractResult
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, gasUsed, err
	}
	if resp.Err != "" {
		return nil, gasUsed, fmt.Errorf("%s", resp.Err)
	}
	return resp.Ok, gasUsed, nil
}
