package vm

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// resultMaxLength bounds the result envelope an entry point may return.
const resultMaxLength = 100_000

// CallInit invokes the init entry point with pre-serialized env, info and
// message documents and returns the raw result envelope.
func (i *Instance) CallInit(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	return i.callRaw(ctx, false, "init", env, info, msg)
}

// CallHandle invokes the handle entry point.
func (i *Instance) CallHandle(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	return i.callRaw(ctx, false, "handle", env, info, msg)
}

// CallMigrate invokes the optional migrate entry point.
func (i *Instance) CallMigrate(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	return i.callRaw(ctx, false, "migrate", env, info, msg)
}

// CallQuery invokes the query entry point. Writes are denied for the whole
// call.
func (i *Instance) CallQuery(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.callRaw(ctx, true, "query", env, msg)
}

// CallReply invokes the optional reply entry point with a serialized Reply.
func (i *Instance) CallReply(ctx context.Context, env, reply []byte) ([]byte, error) {
	return i.callRaw(ctx, false, "reply", env, reply)
}

// callRaw marshals the arguments into guest Regions, invokes the named
// export and reads back the Region it returns. All data crossing the
// boundary is copied, the guest can never retain host memory, and every
// copied byte is priced against the gas meter.
func (i *Instance) callRaw(ctx context.Context, readonly bool, name string, args ...[]byte) ([]byte, error) {
	ctx = withHostContext(ctx, i.hc)
	i.hc.hostErr = nil
	i.hc.setReadonly(readonly)
	defer i.hc.setReadonly(false)

	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, ResolveError{Name: name}
	}

	ptrs := make([]uint64, len(args))
	for n, arg := range args {
		if !i.gas.ConsumePerByte(len(arg)) {
			return nil, OutOfGasError{}
		}
		ptr, err := i.writeToGuest(ctx, arg)
		if err != nil {
			return nil, err
		}
		ptrs[n] = uint64(ptr)
	}

	res, err := fn.Call(ctx, ptrs...)
	if err != nil {
		return nil, i.mapCallError(name, err)
	}
	if len(res) != 1 {
		return nil, ResolveError{Name: name}
	}

	resultPtr := api.DecodeU32(res[0])
	data, err := i.readFromGuest(resultPtr, resultMaxLength)
	if err != nil {
		return nil, err
	}
	if !i.gas.ConsumePerByte(len(data)) {
		return nil, OutOfGasError{}
	}
	if err := i.deallocate(ctx, resultPtr); err != nil {
		return nil, err
	}
	return data, nil
}
