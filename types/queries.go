package types

import "encoding/json"

//-------- Queries --------

// Querier is a thing that can query the state of the chain on behalf of a
// contract. The VM moves it into the instance context for the duration of a
// call; the host import query_chain routes through it.
//
// Query must not consume more than gasLimit gas. GasConsumed reports the
// total gas all queries on this Querier have used so far, so the VM can
// deduct it from the instance's meter.
type Querier interface {
	Query(request QueryRequest, gasLimit uint64) ([]byte, error)
	GasConsumed() uint64
}

// QuerierResult is the envelope written back into guest memory by
// query_chain. The outer layer reports system-level failures (malformed
// request, unreachable contract), the inner layer the queried contract's own
// success or failure.
type QuerierResult struct {
	Ok  *QuerierResponse `json:"ok,omitempty"`
	Err *SystemError     `json:"error,omitempty"`
}

type QuerierResponse struct {
	Ok  []byte `json:"ok,omitempty"`
	Err string `json:"error,omitempty"`
}

// ToQuerierResult converts a querier return value into the wire envelope the
// contract expects. System errors go in the outer layer, everything else in
// the inner one.
func ToQuerierResult(response []byte, err error) QuerierResult {
	if err == nil {
		return QuerierResult{
			Ok: &QuerierResponse{Ok: response},
		}
	}
	syserr := ToSystemError(err)
	if syserr.Unknown == nil {
		return QuerierResult{Err: syserr}
	}
	return QuerierResult{
		Ok: &QuerierResponse{Err: err.Error()},
	}
}

// QueryRequest is an rust enum and only (exactly) one of the fields should be set
// Should we do a cleaner approach in Go? (type/data pairs)
type QueryRequest struct {
	Bank   *BankQuery      `json:"bank,omitempty"`
	Custom json.RawMessage `json:"custom,omitempty"`
	Wasm   *WasmQuery      `json:"wasm,omitempty"`
}

type BankQuery struct {
	Balance     *BalanceQuery     `json:"balance,omitempty"`
	AllBalances *AllBalancesQuery `json:"all_balances,omitempty"`
}

type BalanceQuery struct {
	Address HumanAddress `json:"address"`
	Denom   string       `json:"denom"`
}

// BalanceResponse is the expected response to BalanceQuery
type BalanceResponse struct {
	Amount Coin `json:"amount"`
}

type AllBalancesQuery struct {
	Address HumanAddress `json:"address"`
}

// AllBalancesResponse is the expected response to AllBalancesQuery
type AllBalancesResponse struct {
	Amount Array[Coin] `json:"amount"`
}

type WasmQuery struct {
	Smart *SmartQuery `json:"smart,omitempty"`
	Raw   *RawQuery   `json:"raw,omitempty"`
}

// SmartQuery responses are raw bytes ([]byte)
type SmartQuery struct {
	ContractAddr HumanAddress `json:"contract_addr"`
	Msg          []byte       `json:"msg"`
}

// RawQuery responses are raw bytes ([]byte)
type RawQuery struct {
	ContractAddr HumanAddress `json:"contract_addr"`
	Key          []byte       `json:"key"`
}
