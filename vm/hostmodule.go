package vm

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/CosmWasm/wasmvm-go/types"
)

const ki = 1024

// Input limits for host imports. The VM reads these amounts out of guest
// memory, so they bound how much a malicious contract can make the host
// allocate per call.
const (
	maxLengthDBKey   = 64 * ki
	maxLengthDBValue = 128 * ki
	// Typically 20 (Cosmos SDK, Ethereum) or 32 (Nano, Substrate)
	maxLengthCanonicalAddress = 32
	// The maximum allowed size for bech32 addresses
	maxLengthHumanAddress      = 90
	maxLengthQueryChainRequest = 64 * ki
)

// hostModuleName is the import namespace contracts link against.
const hostModuleName = "env"

type contextKey struct{}

// withHostContext attaches the per-call host state to ctx. Every guest call
// must go through this; host imports fetch the state back out.
func withHostContext(ctx context.Context, hc *hostContext) context.Context {
	return context.WithValue(ctx, contextKey{}, hc)
}

func hostCtx(ctx context.Context) *hostContext {
	hc, ok := ctx.Value(contextKey{}).(*hostContext)
	if !ok {
		panic("host function called without host context")
	}
	return hc
}

// errAbort is the panic payload host imports use to unwind out of guest
// execution. The typed error travels in hostContext.hostErr; the wazero call
// engine recovers the panic and surfaces it as an error from Call.
type errAbort struct{}

// abort records err and unwinds the current guest call. When a nested guest
// call (a host import calling back into allocate) already aborted, the first
// recorded error wins; a gas abort must not come back as a generic trap.
func abort(hc *hostContext, err error) {
	if hc.hostErr == nil {
		hc.hostErr = err
	}
	panic(errAbort{})
}

// chargeExternal burns chain gas and aborts the call once the limit is hit.
func chargeExternal(hc *hostContext, amount uint64) {
	if !hc.gas.ConsumeExternalGas(amount) {
		abort(hc, OutOfGasError{})
	}
}

func chargeBytes(hc *hostContext, n int) {
	if !hc.gas.ConsumePerByte(n) {
		abort(hc, OutOfGasError{})
	}
}

// registerHostModule instantiates the "env" module all contracts import
// from. It is registered once per wazero runtime and shared by all
// instances; per-call state travels in the context.
func registerHostModule(ctx context.Context, r wazero.Runtime) error {
	i32 := api.ValueTypeI32

	builder := r.NewHostModuleBuilder(hostModuleName)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostGas), []api.ValueType{i32}, nil).
		Export("gas")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostDBRead), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("db_read")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostDBWrite), []api.ValueType{i32, i32}, nil).
		Export("db_write")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostDBRemove), []api.ValueType{i32}, nil).
		Export("db_remove")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostDBScan), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		Export("db_scan")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostDBNext), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("db_next")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostCanonicalizeAddress), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("canonicalize_address")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostHumanizeAddress), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("humanize_address")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostQueryChain), []api.ValueType{i32}, []api.ValueType{i32}).
		Export("query_chain")

	_, err := builder.Instantiate(ctx)
	return err
}

// hostGas is the charge point injected into contract bytecode by the
// instrumentation pass. It must stay trivial, it runs between nearly every
// pair of instructions.
func hostGas(ctx context.Context, _ api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	amount := uint64(api.DecodeU32(stack[0]))
	if !hc.gas.ConsumeWasmGas(amount) {
		abort(hc, OutOfGasError{})
	}
}

// writeToContract asks the guest allocator for a fresh Region, fills it with
// data and returns the Region pointer. This is how hosts return
// variable-length data.
func writeToContract(ctx context.Context, mod api.Module, hc *hostContext, data []byte) uint32 {
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		abort(hc, ResolveError{Name: "allocate"})
	}
	res, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		abort(hc, RuntimeError{Msg: "calling allocate", Err: err})
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		abort(hc, zeroAddress())
	}
	if err := writeToRegion(mod.Memory(), ptr, data); err != nil {
		abort(hc, err)
	}
	return ptr
}

func hostDBRead(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	keyPtr := api.DecodeU32(stack[0])

	key, err := readRegion(mod.Memory(), keyPtr, maxLengthDBKey)
	if err != nil {
		abort(hc, err)
	}
	store, err := hc.withStorage()
	if err != nil {
		abort(hc, err)
	}
	chargeExternal(hc, hc.gas.config.DatabaseRead)

	value := store.Get(key)
	if value == nil {
		stack[0] = 0
		return
	}
	chargeBytes(hc, len(value))
	stack[0] = uint64(writeToContract(ctx, mod, hc, value))
}

func hostDBWrite(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	if hc.readonly {
		abort(hc, WriteAccessDeniedError{})
	}

	key, err := readRegion(mod.Memory(), api.DecodeU32(stack[0]), maxLengthDBKey)
	if err != nil {
		abort(hc, err)
	}
	value, err := readRegion(mod.Memory(), api.DecodeU32(stack[1]), maxLengthDBValue)
	if err != nil {
		abort(hc, err)
	}
	store, err := hc.withStorage()
	if err != nil {
		abort(hc, err)
	}
	chargeExternal(hc, hc.gas.config.DatabaseWrite)
	chargeBytes(hc, len(key)+len(value))

	store.Set(key, value)
}

func hostDBRemove(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	if hc.readonly {
		abort(hc, WriteAccessDeniedError{})
	}

	key, err := readRegion(mod.Memory(), api.DecodeU32(stack[0]), maxLengthDBKey)
	if err != nil {
		abort(hc, err)
	}
	store, err := hc.withStorage()
	if err != nil {
		abort(hc, err)
	}
	chargeExternal(hc, hc.gas.config.DatabaseWrite)

	store.Delete(key)
}

func hostDBScan(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	startPtr := api.DecodeU32(stack[0])
	endPtr := api.DecodeU32(stack[1])
	order := int32(api.DecodeU32(stack[2]))

	// null pointers encode absent bounds
	start, err := maybeReadRegion(mod.Memory(), startPtr, maxLengthDBKey)
	if err != nil {
		abort(hc, err)
	}
	end, err := maybeReadRegion(mod.Memory(), endPtr, maxLengthDBKey)
	if err != nil {
		abort(hc, err)
	}
	store, err := hc.withStorage()
	if err != nil {
		abort(hc, err)
	}
	chargeExternal(hc, hc.gas.config.IteratorCreate)

	var iter types.Iterator
	switch types.Order(order) {
	case types.Ascending:
		iter = store.Iterator(start, end)
	case types.Descending:
		iter = store.ReverseIterator(start, end)
	default:
		abort(hc, invalidOrder(order))
	}

	stack[0] = uint64(hc.addIterator(iter))
}

func hostDBNext(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	id := api.DecodeU32(stack[0])

	iter, ok := hc.iterator(id)
	if !ok {
		abort(hc, RuntimeError{Msg: "iterator does not exist"})
	}
	chargeExternal(hc, hc.gas.config.IteratorNext)

	// An empty key signals the end of iteration to the contract.
	var key, value []byte
	if iter.Valid() {
		key = iter.Key()
		value = iter.Value()
		iter.Next()
		if err := iter.Error(); err != nil {
			abort(hc, RuntimeError{Msg: "advancing iterator", Err: err})
		}
	}

	// Build key || value || keylen
	out := make([]byte, 0, len(key)+len(value)+4)
	out = append(out, key...)
	out = append(out, value...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(key)))

	chargeBytes(hc, len(out))
	stack[0] = uint64(writeToContract(ctx, mod, hc, out))
}

func hostCanonicalizeAddress(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	sourcePtr := api.DecodeU32(stack[0])
	destPtr := api.DecodeU32(stack[1])

	source, err := readRegion(mod.Memory(), sourcePtr, maxLengthHumanAddress)
	if err != nil {
		abort(hc, err)
	}
	// Input errors are reported to the contract as an error string, not as
	// a host abort, so it can propagate them in its own result.
	if len(source) == 0 {
		stack[0] = uint64(writeToContract(ctx, mod, hc, []byte("Input is empty")))
		return
	}
	if !utf8.Valid(source) {
		stack[0] = uint64(writeToContract(ctx, mod, hc, []byte("Input is not valid UTF-8")))
		return
	}

	canonical, gasUsed, err := hc.api.CanonicalizeAddress(string(source))
	chargeExternal(hc, gasUsed)
	if err != nil {
		stack[0] = uint64(writeToContract(ctx, mod, hc, []byte(err.Error())))
		return
	}

	if err := writeToRegion(mod.Memory(), destPtr, canonical); err != nil {
		abort(hc, err)
	}
	stack[0] = 0
}

func hostHumanizeAddress(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	sourcePtr := api.DecodeU32(stack[0])
	destPtr := api.DecodeU32(stack[1])

	canonical, err := readRegion(mod.Memory(), sourcePtr, maxLengthCanonicalAddress)
	if err != nil {
		abort(hc, err)
	}

	human, gasUsed, err := hc.api.HumanizeAddress(canonical)
	chargeExternal(hc, gasUsed)
	if err != nil {
		stack[0] = uint64(writeToContract(ctx, mod, hc, []byte(err.Error())))
		return
	}

	if err := writeToRegion(mod.Memory(), destPtr, []byte(human)); err != nil {
		abort(hc, err)
	}
	stack[0] = 0
}

func hostQueryChain(ctx context.Context, mod api.Module, stack []uint64) {
	hc := hostCtx(ctx)
	requestPtr := api.DecodeU32(stack[0])

	request, err := readRegion(mod.Memory(), requestPtr, maxLengthQueryChainRequest)
	if err != nil {
		abort(hc, err)
	}
	querier, err := hc.withQuerier()
	if err != nil {
		abort(hc, err)
	}
	chargeExternal(hc, hc.gas.config.ExternalQuery)

	var req types.QueryRequest
	var result types.QuerierResult
	if err := json.Unmarshal(request, &req); err != nil {
		result = types.QuerierResult{
			Err: &types.SystemError{
				InvalidRequest: &types.InvalidRequest{Err: err.Error(), Request: request},
			},
		}
	} else {
		gasBefore := querier.GasConsumed()
		response, qerr := querier.Query(req, hc.gas.GasLeft()/GasMultiplier)
		chargeExternal(hc, querier.GasConsumed()-gasBefore)
		result = types.ToQuerierResult(response, qerr)
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		abort(hc, SerializeError{Source: "querier result", Msg: err.Error()})
	}
	chargeBytes(hc, len(serialized))
	stack[0] = uint64(writeToContract(ctx, mod, hc, serialized))
}
