package vm

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/CosmWasm/wasmvm-go/types"
)

// Instance is one live contract bound to caller-supplied storage and
// querier. It is not safe for concurrent use; an instance executes one call
// at a time and must not be shared by two call sites while deps are bound.
type Instance struct {
	checksum types.Checksum
	module   api.Module
	gas      *GasState
	hc       *hostContext
}

// newInstance instantiates a compiled module and installs deps. gasLimit is
// in chain gas.
func newInstance(ctx context.Context, runtime wazero.Runtime, compiled wazero.CompiledModule, checksum types.Checksum, config GasConfig) (*Instance, error) {
	gas := NewGasState(config, 0)
	hc := newHostContext(gas)

	// Anonymous module, no name registration. Start functions are not part
	// of the contract ABI and must not run.
	modConfig := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	module, err := runtime.InstantiateModule(withHostContext(ctx, hc), compiled, modConfig)
	if err != nil {
		return nil, RuntimeError{Msg: "instantiating module", Err: err}
	}
	if module.Memory() == nil {
		_ = module.Close(ctx)
		return nil, ResolveError{Name: "memory"}
	}

	return &Instance{
		checksum: checksum,
		module:   module,
		gas:      gas,
		hc:       hc,
	}, nil
}

// Checksum identifies the code this instance runs.
func (i *Instance) Checksum() types.Checksum {
	return i.checksum
}

// SetGasLimit rearms the gas meter for the next call. The limit is given in
// chain gas.
func (i *Instance) SetGasLimit(limit uint64) {
	i.gas.Reset(limit * GasMultiplier)
}

// GasReport returns consumption of the current meter period.
func (i *Instance) GasReport() types.GasReport {
	return i.gas.Report()
}

// setDeps binds storage and querier for the duration of one or more calls.
func (i *Instance) setDeps(storage types.KVStore, querier types.Querier, goapi types.GoAPI) {
	i.hc.moveIn(storage, querier)
	i.hc.api = goapi
}

// takeDeps drains the context, closing open iterators first, and returns
// storage and querier to the caller. After this the instance holds no
// caller state and can be recycled for a different caller.
func (i *Instance) takeDeps() (types.KVStore, types.Querier) {
	return i.hc.moveOut()
}

// close releases the wazero module. The instance is unusable afterwards.
func (i *Instance) close() error {
	return i.module.Close(context.Background())
}

// writeToGuest allocates a Region in guest memory via the contract's own
// allocator and fills it with data, returning the Region pointer.
func (i *Instance) writeToGuest(ctx context.Context, data []byte) (uint32, error) {
	allocate := i.module.ExportedFunction("allocate")
	if allocate == nil {
		return 0, ResolveError{Name: "allocate"}
	}
	res, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, i.mapCallError("allocate", err)
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		return 0, zeroAddress()
	}
	if err := writeToRegion(i.module.Memory(), ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

// readFromGuest copies the data a guest Region pointer refers to.
func (i *Instance) readFromGuest(ptr uint32, maxLength int) ([]byte, error) {
	return readRegion(i.module.Memory(), ptr, maxLength)
}

// deallocate returns a Region to the guest allocator. Plain allocator traps
// are not fatal, the instance memory is discarded on recycle anyway. A typed
// host error is: the instrumented body runs out of gas like any other code,
// and that must fail the whole call.
func (i *Instance) deallocate(ctx context.Context, ptr uint32) error {
	dealloc := i.module.ExportedFunction("deallocate")
	if dealloc == nil {
		return nil
	}
	if _, err := dealloc.Call(ctx, uint64(ptr)); err != nil && i.hc.hostErr != nil {
		return i.mapCallError("deallocate", err)
	}
	return nil
}

// mapCallError turns a wazero call failure into the runtime's error
// taxonomy. A typed error recorded by a host import takes precedence over
// the generic trap it unwound with.
func (i *Instance) mapCallError(name string, err error) error {
	if hostErr := i.hc.hostErr; hostErr != nil {
		i.hc.hostErr = nil
		return hostErr
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return RuntimeError{Msg: "module closed during " + name, Err: err}
	}
	return RuntimeError{Msg: "calling " + name, Err: err}
}
