package types

//---------- Env ---------

// Env defines the state of the blockchain environment this contract is
// running in. This must contain only trusted data - nothing from the Tx itself
// that has not been verified (like Signer).
//
// Env is serialized to JSON and passed to the contract on every entry point
// call, so it must remain a stable subset of the chain state.
type Env struct {
	Block    BlockInfo    `json:"block"`
	Contract ContractInfo `json:"contract"`
}

type BlockInfo struct {
	// block height this transaction is executed
	Height uint64 `json:"height"`
	// time in seconds since unix epoch
	Time    uint64 `json:"time"`
	ChainID string `json:"chain_id"`
}

type ContractInfo struct {
	// address of the contract itself
	Address HumanAddress `json:"address"`
}

// MessageInfo carries the verified sender and the funds attached to the
// message currently being processed.
type MessageInfo struct {
	// binary encoding of sdk.AccAddress executing the contract
	Sender HumanAddress `json:"sender"`
	// amount of funds send to the contract along with this message
	SentFunds Array[Coin] `json:"sent_funds"`
}
