package types

import (
	"encoding/json"
	"fmt"
)

// CosmosMsg is an rust enum and only (exactly) one of the fields should be set
// Should we do a cleaner approach in Go? (type/data pairs)
type CosmosMsg struct {
	Bank   *BankMsg        `json:"bank,omitempty"`
	Custom json.RawMessage `json:"custom,omitempty"`
	Wasm   *WasmMsg        `json:"wasm,omitempty"`
}

type BankMsg struct {
	Send *SendMsg `json:"send,omitempty"`
}

// SendMsg contains instructions for a Cosmos-SDK/SendMsg
// It has a fixed interface here and should be converted into the proper SDK format before dispatching
type SendMsg struct {
	FromAddress HumanAddress `json:"from_address"`
	ToAddress   HumanAddress `json:"to_address"`
	Amount      Array[Coin]  `json:"amount"`
}

// WasmMsg is a message sent to another contract on the same chain.
type WasmMsg struct {
	Execute     *ExecuteMsg     `json:"execute,omitempty"`
	Instantiate *InstantiateMsg `json:"instantiate,omitempty"`
}

// ExecuteMsg is used to call another defined contract on this chain.
// Msg is the json-encoded handle message the target contract understands.
type ExecuteMsg struct {
	ContractAddr HumanAddress `json:"contract_addr"`
	Msg          []byte       `json:"msg"`
	Send         Array[Coin]  `json:"send"`
}

// InstantiateMsg will create a new contract instance from a previously
// uploaded code blob.
type InstantiateMsg struct {
	CodeID uint64      `json:"code_id"`
	Msg    []byte      `json:"msg"`
	Send   Array[Coin] `json:"send"`
	Label  string      `json:"label"`
}

type replyOn int

const (
	ReplyAlways replyOn = iota
	ReplySuccess
	ReplyError
	ReplyNever
)

var fromReplyOn = map[replyOn]string{
	ReplyAlways:  "always",
	ReplySuccess: "success",
	ReplyError:   "error",
	ReplyNever:   "never",
}

var toReplyOn = map[string]replyOn{
	"always":  ReplyAlways,
	"success": ReplySuccess,
	"error":   ReplyError,
	"never":   ReplyNever,
}

func (r replyOn) String() string {
	return fromReplyOn[r]
}

func (r replyOn) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *replyOn) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	v, ok := toReplyOn[j]
	if !ok {
		return fmt.Errorf("invalid reply_on value '%v'", j)
	}
	*r = v
	return nil
}

// SubMsg wraps a CosmosMsg with some metadata for handling replies (ID) and optionally
// limiting the gas usage (GasLimit)
type SubMsg struct {
	// An arbitrary ID chosen by the contract, used to match Replys in the
	// reply entry point to the submessage.
	ID       uint64    `json:"id"`
	Msg      CosmosMsg `json:"msg"`
	GasLimit *uint64   `json:"gas_limit,omitempty"`
	ReplyOn  replyOn   `json:"reply_on"`
}

// NewSubMsg wraps a plain message as fire-and-forget, which is what contracts
// emit when they do not care about the outcome.
func NewSubMsg(msg CosmosMsg) SubMsg {
	return SubMsg{Msg: msg, ReplyOn: ReplyNever}
}
