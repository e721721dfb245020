package vm

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/CosmWasm/wasmvm-go/internal/compat"
	"github.com/CosmWasm/wasmvm-go/internal/metering"
	"github.com/CosmWasm/wasmvm-go/internal/store"
	"github.com/CosmWasm/wasmvm-go/types"
)

// Stats counts cache effectiveness since construction.
type Stats struct {
	// HitsInstance counts calls served by a warm instance.
	HitsInstance uint32
	// HitsModule counts calls served by an already compiled module.
	HitsModule uint32
	// Misses counts calls that had to recompile from raw bytecode.
	Misses uint32
}

// Cache owns all tiers of contract artifacts: the durable code store, the
// compiled modules and a bounded pool of warm instances ready for reuse.
// All methods are safe for concurrent use.
type Cache struct {
	logger    *zap.Logger
	store     *store.Store
	runtime   wazero.Runtime
	features  map[string]struct{}
	gasConfig GasConfig

	mu          sync.Mutex
	compiled    map[types.Checksum]wazero.CompiledModule
	instances   *lru.Cache[types.Checksum, *Instance]
	instanceCap int
	stats       Stats
}

// NewCache sets up the cache under options.BaseDir. A nil logger disables
// logging.
func NewCache(options types.CacheOptions, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := store.New(options.BaseDir)
	if err != nil {
		return nil, CacheError{Msg: "initializing code store", Err: err}
	}

	ctx := context.Background()
	runtimeConfig := wazero.NewRuntimeConfig()
	if options.InstanceMemoryLimitPages > 0 {
		runtimeConfig = runtimeConfig.WithMemoryLimitPages(options.InstanceMemoryLimitPages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	if err := registerHostModule(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, CacheError{Msg: "registering host module", Err: err}
	}

	// No eviction callback here. The pool is popped from on warm hits and
	// popping must hand back a live instance, so closing happens only at the
	// explicit call sites that retire one.
	var instances *lru.Cache[types.Checksum, *Instance]
	if options.InstanceCacheSize > 0 {
		instances, err = lru.New[types.Checksum, *Instance](int(options.InstanceCacheSize))
		if err != nil {
			_ = runtime.Close(ctx)
			return nil, CacheError{Msg: "initializing instance pool", Err: err}
		}
	}

	features := make(map[string]struct{}, len(options.SupportedFeatures))
	for _, feature := range options.SupportedFeatures {
		features[feature] = struct{}{}
	}

	return &Cache{
		logger:      logger,
		store:       st,
		runtime:     runtime,
		features:    features,
		gasConfig:   DefaultGasConfig(),
		compiled:    make(map[types.Checksum]wazero.CompiledModule),
		instances:   instances,
		instanceCap: int(options.InstanceCacheSize),
	}, nil
}

// Close releases all warm instances and the underlying runtime.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instances != nil {
		for _, inst := range c.instances.Values() {
			_ = inst.close()
		}
		c.instances.Purge()
	}
	return c.runtime.Close(context.Background())
}

// Stats returns a snapshot of the hit counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SaveWasm validates code, persists it under its checksum and eagerly
// prepares the compiled module. Saving identical code twice is idempotent
// and returns the same checksum.
func (c *Cache) SaveWasm(code []byte) (types.Checksum, error) {
	if err := compat.CheckWasm(code, c.features); err != nil {
		return types.Checksum{}, ValidationError{Msg: err.Error()}
	}
	checksum := types.GenerateChecksum(code)
	if err := c.store.SaveWasm(checksum, code); err != nil {
		return types.Checksum{}, CacheError{Msg: "saving wasm", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.compileLocked(context.Background(), checksum, code); err != nil {
		return types.Checksum{}, err
	}
	c.logger.Info("stored contract code", zap.String("checksum", checksum.String()), zap.Int("size", len(code)))
	return checksum, nil
}

// LoadWasm returns the raw bytecode for checksum after an integrity
// recheck against the content hash.
func (c *Cache) LoadWasm(checksum types.Checksum) ([]byte, error) {
	code, err := c.store.LoadWasm(checksum)
	if errors.Is(err, store.ErrNotFound) {
		return nil, CacheError{Msg: "no wasm file for " + checksum.String()}
	}
	if err != nil {
		return nil, CacheError{Msg: "loading wasm", Err: err}
	}
	if types.GenerateChecksum(code) != checksum {
		c.logger.Error("stored wasm fails integrity check", zap.String("checksum", checksum.String()))
		return nil, IntegrityError{Expected: checksum}
	}
	return code, nil
}

// RemoveWasm deletes the raw bytecode and all derived artifacts for
// checksum from this cache.
func (c *Cache) RemoveWasm(checksum types.Checksum) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.compiled, checksum)
	if c.instances != nil {
		if inst, ok := c.instances.Peek(checksum); ok {
			c.instances.Remove(checksum)
			_ = inst.close()
		}
	}
	if err := c.store.RemoveWasm(checksum); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CacheError{Msg: "wasm file does not exist"}
		}
		return CacheError{Msg: "removing wasm", Err: err}
	}
	return nil
}

// GetInstance returns an instance of the given code bound to the supplied
// deps, with its gas meter armed with gasLimit (chain gas). Resolution
// order: warm instance, compiled module, raw bytecode.
func (c *Cache) GetInstance(checksum types.Checksum, storage types.KVStore, querier types.Querier, goapi types.GoAPI, gasLimit uint64) (*Instance, error) {
	ctx := context.Background()

	c.mu.Lock()
	if c.instances != nil {
		if inst, ok := c.instances.Peek(checksum); ok {
			c.instances.Remove(checksum)
			c.stats.HitsInstance++
			c.mu.Unlock()
			inst.setDeps(storage, querier, goapi)
			inst.SetGasLimit(gasLimit)
			return inst, nil
		}
	}

	compiled, err := c.compiledModuleLocked(ctx, checksum)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	inst, err := newInstance(ctx, c.runtime, compiled, checksum, c.gasConfig)
	if err != nil {
		return nil, err
	}
	inst.setDeps(storage, querier, goapi)
	inst.SetGasLimit(gasLimit)
	return inst, nil
}

// StoreInstance reclaims an instance after a call, handing storage and
// querier back to the caller. The instance moves to the warm pool when
// there is room; one warm instance is kept per checksum.
func (c *Cache) StoreInstance(inst *Instance) (types.KVStore, types.Querier) {
	storage, querier := inst.takeDeps()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instances == nil || c.instances.Contains(inst.checksum) {
		_ = inst.close()
		return storage, querier
	}
	if c.instances.Len() >= c.instanceCap {
		if _, oldest, ok := c.instances.RemoveOldest(); ok {
			_ = oldest.close()
		}
	}
	c.instances.Add(inst.checksum, inst)
	return storage, querier
}

// compiledModuleLocked resolves the compiled module for checksum through
// the remaining tiers: in-process memo, instrumented module on disk, full
// recompile from raw bytecode. Callers hold c.mu.
func (c *Cache) compiledModuleLocked(ctx context.Context, checksum types.Checksum) (wazero.CompiledModule, error) {
	if compiled, ok := c.compiled[checksum]; ok {
		c.stats.HitsModule++
		return compiled, nil
	}

	if module, err := c.store.LoadModule(checksum); err == nil {
		compiled, err := c.runtime.CompileModule(ctx, module)
		if err == nil {
			c.stats.HitsModule++
			c.compiled[checksum] = compiled
			return compiled, nil
		}
		// A stale or foreign artifact. Fall through to the source of truth.
		c.logger.Warn("ignoring unusable module artifact", zap.String("checksum", checksum.String()), zap.Error(err))
	}

	c.stats.Misses++
	code, err := c.LoadWasm(checksum)
	if err != nil {
		return nil, err
	}
	return c.compileLocked(ctx, checksum, code)
}

// compileLocked instruments code, persists the instrumented module (best
// effort) and compiles it. Callers hold c.mu.
func (c *Cache) compileLocked(ctx context.Context, checksum types.Checksum, code []byte) (wazero.CompiledModule, error) {
	if compiled, ok := c.compiled[checksum]; ok {
		return compiled, nil
	}

	instrumented, err := metering.Instrument(code)
	if err != nil {
		return nil, CompileError{Msg: "instrumenting module", Err: err}
	}
	if err := c.store.SaveModule(checksum, instrumented); err != nil {
		c.logger.Warn("persisting module artifact failed", zap.String("checksum", checksum.String()), zap.Error(err))
	}

	compiled, err := c.runtime.CompileModule(ctx, instrumented)
	if err != nil {
		return nil, CompileError{Msg: "compiling module", Err: err}
	}
	c.compiled[checksum] = compiled
	return compiled, nil
}
