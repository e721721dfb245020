// Package testcontract builds small contracts from WAT source for tests.
// The contracts implement the full ABI surface (allocator, version marker,
// entry points) with canned responses, which is enough to exercise the
// runtime without shipping compiled binaries in the repository.
package testcontract

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/wippyai/wasm-runtime/wat"
)

// Guest memory layout of the canned contract. Region structs live low,
// payload data above them, the bump allocator heap starts well clear of
// both.
const (
	keyRegionAddr    = 256
	valueRegionAddr  = 272
	initRegionAddr   = 288
	handleRegionAddr = 304
	queryRegionAddr  = 320

	keyAddr    = 512
	valueAddr  = 576
	initAddr   = 1024
	handleAddr = 2048
	queryAddr  = 3072

	heapStart = 16384
)

// Storage entry every init and handle call writes.
const (
	StorageKey   = "config"
	StorageValue = "initialized"
)

// Handle response fields, asserted by runtime tests.
const (
	BeneficiaryAddr = "bob"
	PayoutDenom     = "utoken"
	PayoutAmount    = "1000"
)

// QueryResponse is the raw payload the query entry point returns inside its
// result envelope.
var QueryResponse = []byte(`{"verifier":"alice"}`)

// InitResponse is the json document the init entry point returns.
var InitResponse = `{"ok":{"messages":[],"attributes":[{"key":"action","value":"init"}],"data":null}}`

// HandleResponse is the json document the handle entry point returns. It
// carries exactly one bank send message.
var HandleResponse = fmt.Sprintf(`{"ok":{"messages":[{"id":0,"msg":{"bank":{"send":{"from_address":"cosmos2contract","to_address":"%s","amount":[{"denom":"%s","amount":"%s"}]}}},"reply_on":"never"}],"attributes":[],"data":null}}`,
	BeneficiaryAddr, PayoutDenom, PayoutAmount)

// QueryResult is the json result envelope the query entry point returns.
var QueryResult = fmt.Sprintf(`{"ok":"%s"}`, base64.StdEncoding.EncodeToString(QueryResponse))

// escapeBytes renders data as a WAT string literal body using hex escapes.
func escapeBytes(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		fmt.Fprintf(&sb, "\\%02x", b)
	}
	return sb.String()
}

// regionBytes renders the 12-byte little-endian Region struct describing a
// fully initialized buffer.
func regionBytes(offset, length int) string {
	raw := make([]byte, 12)
	putU32LE(raw[0:], uint32(offset))
	putU32LE(raw[4:], uint32(length))
	putU32LE(raw[8:], uint32(length))
	return escapeBytes(raw)
}

func putU32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func dataSegment(addr int, payload string) string {
	return fmt.Sprintf("  (data (i32.const %d) \"%s\")", addr, payload)
}

// Source returns the WAT source of the canned contract. Its entry points
// write a fixed storage pair and return constant, well-formed result
// envelopes: init emits no messages, handle emits exactly one bank send,
// query returns a constant document.
func Source() string {
	return source(false)
}

// WriteOnQuerySource is the same contract except its query entry point
// attempts a storage write, which a correct host must refuse.
func WriteOnQuerySource() string {
	return source(true)
}

func source(writeOnQuery bool) string {
	segments := strings.Join([]string{
		dataSegment(keyAddr, escapeBytes([]byte(StorageKey))),
		dataSegment(valueAddr, escapeBytes([]byte(StorageValue))),
		dataSegment(initAddr, escapeBytes([]byte(InitResponse))),
		dataSegment(handleAddr, escapeBytes([]byte(HandleResponse))),
		dataSegment(queryAddr, escapeBytes([]byte(QueryResult))),
		dataSegment(keyRegionAddr, regionBytes(keyAddr, len(StorageKey))),
		dataSegment(valueRegionAddr, regionBytes(valueAddr, len(StorageValue))),
		dataSegment(initRegionAddr, regionBytes(initAddr, len(InitResponse))),
		dataSegment(handleRegionAddr, regionBytes(handleAddr, len(HandleResponse))),
		dataSegment(queryRegionAddr, regionBytes(queryAddr, len(QueryResult))),
	}, "\n")

	queryBody := fmt.Sprintf("(drop (call $db_read (i32.const %d)))", keyRegionAddr)
	if writeOnQuery {
		queryBody = fmt.Sprintf("(call $db_write (i32.const %d) (i32.const %d))", keyRegionAddr, valueRegionAddr)
	}

	return fmt.Sprintf(`(module
  (import "env" "db_read" (func $db_read (param i32) (result i32)))
  (import "env" "db_write" (func $db_write (param i32 i32)))
  (memory (export "memory") 2)
  (global $heap (mut i32) (i32.const %d))

%s

  (func (export "interface_version_4"))

  (func (export "allocate") (param $size i32) (result i32)
    (local $region i32)
    (local.set $region (global.get $heap))
    (global.set $heap
      (i32.add (i32.add (global.get $heap) (i32.const 12)) (local.get $size)))
    (i32.store (local.get $region) (i32.add (local.get $region) (i32.const 12)))
    (i32.store (i32.add (local.get $region) (i32.const 4)) (local.get $size))
    (i32.store (i32.add (local.get $region) (i32.const 8)) (i32.const 0))
    (local.get $region))

  (func (export "deallocate") (param $ptr i32))

  (func (export "init") (param $env i32) (param $info i32) (param $msg i32) (result i32)
    (call $db_write (i32.const %d) (i32.const %d))
    (i32.const %d))

  (func (export "handle") (param $env i32) (param $info i32) (param $msg i32) (result i32)
    (call $db_write (i32.const %d) (i32.const %d))
    (i32.const %d))

  (func (export "query") (param $env i32) (param $msg i32) (result i32)
    %s
    (i32.const %d))
)`,
		heapStart,
		segments,
		keyRegionAddr, valueRegionAddr, initRegionAddr,
		keyRegionAddr, valueRegionAddr, handleRegionAddr,
		queryBody, queryRegionAddr,
	)
}

// Contract compiles the canned contract to wasm.
func Contract() ([]byte, error) {
	return wat.Compile(Source())
}

// WriteOnQueryContract compiles the misbehaving query variant to wasm.
func WriteOnQueryContract() ([]byte, error) {
	return wat.Compile(WriteOnQuerySource())
}
