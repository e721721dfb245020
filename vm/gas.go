package vm

import "github.com/CosmWasm/wasmvm-go/types"

// GasMultiplier converts between wasm gas (charged by instrumented bytecode,
// roughly one unit per instruction) and the chain-facing gas unit external
// operations are priced in. All external costs below are in chain gas; wasm
// gas is divided by this factor when reported.
const GasMultiplier uint64 = 100

// Gas costs of host-side operations, in chain gas.
const (
	// Memory operations
	gasPerByte = 1

	// Database operations
	gasCostRead  = 100
	gasCostWrite = 200
	gasCostQuery = 500

	// Iterator operations
	gasCostIteratorCreate = 10000
	gasCostIteratorNext   = 1000
)

// GasConfig holds gas costs for the host-side operations a contract can
// trigger through its imports.
type GasConfig struct {
	// PerByte is charged for every byte moved across the guest boundary.
	PerByte uint64

	// Database operations
	DatabaseRead  uint64
	DatabaseWrite uint64
	ExternalQuery uint64

	// Iterator operations
	IteratorCreate uint64
	IteratorNext   uint64
}

// DefaultGasConfig returns the default gas configuration
func DefaultGasConfig() GasConfig {
	return GasConfig{
		PerByte:        gasPerByte,
		DatabaseRead:   gasCostRead,
		DatabaseWrite:  gasCostWrite,
		ExternalQuery:  gasCostQuery,
		IteratorCreate: gasCostIteratorCreate,
		IteratorNext:   gasCostIteratorNext,
	}
}

// GasState tracks wasm and external gas usage of one contract call. The
// instrumented bytecode charges wasm gas through the gas import; host
// callbacks charge external gas directly. Both are accounted against a
// single limit expressed in wasm gas.
type GasState struct {
	config GasConfig
	// limit in wasm gas units
	limit uint64
	// usedInternal is wasm gas charged by instrumented code
	usedInternal uint64
	// usedExternal is chain gas charged by host callbacks
	usedExternal uint64
}

// NewGasState creates a fresh meter with the given limit in wasm gas.
func NewGasState(config GasConfig, limit uint64) *GasState {
	return &GasState{
		config: config,
		limit:  limit,
	}
}

// Reset rearms the meter for a new call with a new limit.
func (g *GasState) Reset(limit uint64) {
	g.limit = limit
	g.usedInternal = 0
	g.usedExternal = 0
}

// used returns total consumption in wasm gas
func (g *GasState) used() uint64 {
	return g.usedInternal + g.usedExternal*GasMultiplier
}

// GasLeft returns the remaining wasm gas.
func (g *GasState) GasLeft() uint64 {
	used := g.used()
	if used > g.limit {
		return 0
	}
	return g.limit - used
}

// ConsumeWasmGas charges gas on behalf of instrumented bytecode. Returns
// false once the limit is exceeded; the caller must abort execution.
func (g *GasState) ConsumeWasmGas(amount uint64) bool {
	g.usedInternal += amount
	return g.used() <= g.limit
}

// ConsumeExternalGas charges chain gas for a host-side operation. Returns
// false once the limit is exceeded.
func (g *GasState) ConsumeExternalGas(amount uint64) bool {
	g.usedExternal += amount
	return g.used() <= g.limit
}

// ConsumePerByte charges the per-byte cost for moving n bytes across the
// guest boundary.
func (g *GasState) ConsumePerByte(n int) bool {
	return g.ConsumeExternalGas(g.config.PerByte * uint64(n))
}

// Report summarizes the meter in chain gas units.
func (g *GasState) Report() types.GasReport {
	return types.GasReport{
		Limit:          g.limit / GasMultiplier,
		Remaining:      g.GasLeft() / GasMultiplier,
		UsedExternally: g.usedExternal,
		UsedInternally: g.usedInternal / GasMultiplier,
	}
}
