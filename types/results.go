package types

//------- Results / Responses -------------

// ContractResult is the envelope every contract entry point returns: either
// a successful Response or the contract's own error message. Errors in this
// envelope come from the contract, not from the runtime; runtime failures
// surface as Go errors instead.
type ContractResult struct {
	Ok  *Response `json:"ok,omitempty"`
	Err string    `json:"error,omitempty"`
}

// SubMessages returns the sub-messages of the result.
func (r *ContractResult) SubMessages() []SubMsg {
	if r.Ok != nil {
		return r.Ok.Messages
	}
	return nil
}

// Response defines the return value on a successful init/handle/migrate.
type Response struct {
	// Messages comes directly from the contract and is its request for action.
	// If the ReplyOn value matches the result, the runtime will invoke this
	// contract's reply entry point after execution. Otherwise, this is all
	// "fire and forget".
	Messages Array[SubMsg] `json:"messages"`
	// attributes for a log event to return over abci interface
	Attributes Array[EventAttribute] `json:"attributes"`
	// base64-encoded bytes to return as ABCI.Data field
	Data []byte `json:"data,omitempty"`
}

// EventAttribute represents an attribute of an event.
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// QueryResult is the envelope the query entry point returns. Ok holds the
// raw json-encoded response bytes the contract produced.
type QueryResult struct {
	Ok  []byte `json:"ok,omitempty"`
	Err string `json:"error,omitempty"`
}

// Reply is the payload for the reply entry point, delivering the outcome of
// a submessage the contract asked to hear back about.
type Reply struct {
	ID     uint64       `json:"id"`
	Result SubMsgResult `json:"result"`
}

// SubMsgResult is the raw response we return from the sdk -> reply after executing a SubMsg.
type SubMsgResult struct {
	Ok  *SubMsgResponse `json:"ok,omitempty"`
	Err string          `json:"error,omitempty"`
}

type SubMsgResponse struct {
	Attributes Array[EventAttribute] `json:"attributes"`
	Data       []byte                `json:"data,omitempty"`
}
