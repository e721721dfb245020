package vm

import (
	"github.com/CosmWasm/wasmvm-go/types"
)

// hostContext is the per-instance bundle host imports operate on. It is
// installed before a call and drained when the instance is recycled, so a
// warm instance never retains a previous caller's state.
//
// There is no locking here. An instance executes one call at a time and the
// context is only touched from host imports running inside that call.
type hostContext struct {
	storage types.KVStore
	querier types.Querier
	api     types.GoAPI
	gas     *GasState

	// readonly is set for query execution and blocks db_write/db_remove.
	readonly bool

	// open iterators, keyed by the IDs handed to the guest
	iterators  map[uint32]types.Iterator
	nextIterID uint32

	// hostErr carries a typed error out of a host import across the guest
	// frame. Host imports abort by panicking with errAbortSentinel after
	// setting this; the call boundary picks it up.
	hostErr error
}

func newHostContext(gas *GasState) *hostContext {
	return &hostContext{
		gas:       gas,
		iterators: make(map[uint32]types.Iterator),
	}
}

// moveIn installs storage and querier. It panics if data is already
// installed, which would mean two calls share one instance.
func (c *hostContext) moveIn(storage types.KVStore, querier types.Querier) {
	if c.storage != nil || c.querier != nil {
		panic("context data already set, must move out before moving in")
	}
	c.storage = storage
	c.querier = querier
}

// setReadonly flips write protection for the next entry point call.
func (c *hostContext) setReadonly(readonly bool) {
	c.readonly = readonly
}

// moveOut drains the context, closing open iterators before the storage
// they borrow from is handed back to the caller. Returns nil values if
// nothing was installed.
func (c *hostContext) moveOut() (types.KVStore, types.Querier) {
	for id, iter := range c.iterators {
		_ = iter.Close()
		delete(c.iterators, id)
	}
	storage, querier := c.storage, c.querier
	c.storage = nil
	c.querier = nil
	c.readonly = false
	c.hostErr = nil
	return storage, querier
}

func (c *hostContext) withStorage() (types.KVStore, error) {
	if c.storage == nil {
		return nil, UninitializedContextDataError{Kind: "storage"}
	}
	return c.storage, nil
}

func (c *hostContext) withQuerier() (types.Querier, error) {
	if c.querier == nil {
		return nil, UninitializedContextDataError{Kind: "querier"}
	}
	return c.querier, nil
}

// addIterator registers an iterator and returns its guest-facing ID.
// IDs start at 1, so 0 can never be a valid handle.
func (c *hostContext) addIterator(iter types.Iterator) uint32 {
	c.nextIterID++
	c.iterators[c.nextIterID] = iter
	return c.nextIterID
}

func (c *hostContext) iterator(id uint32) (types.Iterator, bool) {
	iter, ok := c.iterators[id]
	return iter, ok
}
