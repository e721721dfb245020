// Package testdb provides the host-side collaborators tests hand to the
// runtime: a KVStore backed by a real database, a bank querier and an
// address API with deterministic gas costs.
package testdb

import (
	"bytes"
	"encoding/json"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/CosmWasm/wasmvm-go/types"
)

// Storage adapts a cometbft MemDB to the KVStore interface contracts run
// against. Errors from the underlying database are impossible for an
// in-memory backend, so they panic instead of complicating the interface.
type Storage struct {
	db dbm.DB
}

var _ types.KVStore = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{db: dbm.NewMemDB()}
}

func (s *Storage) Get(key []byte) []byte {
	value, err := s.db.Get(key)
	if err != nil {
		panic(err)
	}
	return value
}

func (s *Storage) Set(key, value []byte) {
	if err := s.db.Set(key, value); err != nil {
		panic(err)
	}
}

func (s *Storage) Delete(key []byte) {
	if err := s.db.Delete(key); err != nil {
		panic(err)
	}
}

func (s *Storage) Iterator(start, end []byte) types.Iterator {
	iter, err := s.db.Iterator(start, end)
	if err != nil {
		panic(err)
	}
	return iter
}

func (s *Storage) ReverseIterator(start, end []byte) types.Iterator {
	iter, err := s.db.ReverseIterator(start, end)
	if err != nil {
		panic(err)
	}
	return iter
}

// Querier answers bank queries from a fixed balance table.
type Querier struct {
	balances map[string][]types.Coin
	usedGas  uint64
}

var _ types.Querier = (*Querier)(nil)

// gas charged per query on top of what the VM charges
const queryGasCost = 100

func NewQuerier(account string, balance []types.Coin) *Querier {
	balances := make(map[string][]types.Coin)
	if account != "" {
		balances[account] = balance
	}
	return &Querier{balances: balances}
}

func (q *Querier) GasConsumed() uint64 {
	return q.usedGas
}

func (q *Querier) Query(request types.QueryRequest, _ uint64) ([]byte, error) {
	q.usedGas += queryGasCost
	switch {
	case request.Bank != nil:
		return q.queryBank(request.Bank)
	case request.Custom != nil:
		return nil, types.UnsupportedRequest{Kind: "custom"}
	case request.Wasm != nil:
		return nil, types.UnsupportedRequest{Kind: "wasm"}
	default:
		return nil, types.Unknown{}
	}
}

func (q *Querier) queryBank(request *types.BankQuery) ([]byte, error) {
	switch {
	case request.Balance != nil:
		amount := types.Coin{Denom: request.Balance.Denom, Amount: "0"}
		for _, coin := range q.balances[request.Balance.Address] {
			if coin.Denom == request.Balance.Denom {
				amount = coin
			}
		}
		return json.Marshal(types.BalanceResponse{Amount: amount})
	case request.AllBalances != nil:
		return json.Marshal(types.AllBalancesResponse{
			Amount: q.balances[request.AllBalances.Address],
		})
	default:
		return nil, types.UnsupportedRequest{Kind: "bank"}
	}
}

// Address API costs, in chain gas.
const (
	canonicalizeGasCost = 44
	humanizeGasCost     = 33

	canonicalLength = 32
)

// API returns an address converter that canonicalizes by zero-padding the
// human address to a fixed width. Both directions are total on each other's
// output, which is all contracts rely on.
func API() types.GoAPI {
	return types.GoAPI{
		CanonicalizeAddress: func(human string) ([]byte, uint64, error) {
			if len(human) == 0 || len(human) > canonicalLength {
				return nil, canonicalizeGasCost, fmt.Errorf("invalid address length: %d", len(human))
			}
			canonical := make([]byte, canonicalLength)
			copy(canonical, human)
			return canonical, canonicalizeGasCost, nil
		},
		HumanizeAddress: func(canonical []byte) (string, uint64, error) {
			if len(canonical) != canonicalLength {
				return "", humanizeGasCost, fmt.Errorf("invalid canonical address length: %d", len(canonical))
			}
			human := string(bytes.TrimRight(canonical, "\x00"))
			if human == "" {
				return "", humanizeGasCost, fmt.Errorf("empty canonical address")
			}
			return human, humanizeGasCost, nil
		},
	}
}

// Env returns a deterministic environment for contract calls.
func Env() types.Env {
	return types.Env{
		Block: types.BlockInfo{
			Height:  12_345,
			Time:    1_571_797_419,
			ChainID: "cosmos-testnet-14002",
		},
		Contract: types.ContractInfo{
			Address: "cosmos2contract",
		},
	}
}

// Info returns message metadata with the given signer and funds.
func Info(sender string, funds []types.Coin) types.MessageInfo {
	return types.MessageInfo{
		Sender:    sender,
		SentFunds: funds,
	}
}
