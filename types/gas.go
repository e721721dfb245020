package types

// Gas is a unit of deterministic execution cost. One unit of wasm bytecode
// work and one unit of external (storage, query, address API) work are both
// expressed in Gas; the conversion between the two scales happens in the VM.
type Gas = uint64

// GasMeter is a read-only version of the sdk gas meter
// It is a copy of an interface declaration from cosmos-sdk
// https://github.com/cosmos/cosmos-sdk/blob/18abd6696a28b3d934efe188f45ff7e5a0e32ea3/store/types/gas.go#L34
type GasMeter interface {
	GasConsumed() Gas
}

// GasReport is a report to the caller of how much gas a single contract call
// burned, split by where the work happened.
type GasReport struct {
	// Limit is the maximum the call was allowed to consume.
	Limit uint64
	// Remaining is Limit minus everything consumed.
	Remaining uint64
	// UsedExternally is gas burned in host callbacks (storage, querier, address API).
	UsedExternally uint64
	// UsedInternally is gas burned by instrumented wasm execution.
	UsedInternally uint64
}

func EmptyGasReport(limit uint64) GasReport {
	return GasReport{
		Limit:     limit,
		Remaining: limit,
	}
}
