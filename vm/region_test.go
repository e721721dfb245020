package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasm-runtime/wat"
)

// testMemory instantiates a bare module with one page of exported memory.
func testMemory(t *testing.T) api.Memory {
	t.Helper()
	ctx := context.Background()
	code, err := wat.Compile(`(module (memory (export "memory") 1))`)
	require.NoError(t, err)

	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })
	mod, err := r.Instantiate(ctx, code)
	require.NoError(t, err)
	return mod.Memory()
}

func TestRegionStructRoundTrip(t *testing.T) {
	mem := testMemory(t)

	in := Region{Offset: 1024, Capacity: 64, Length: 11}
	require.NoError(t, writeRegionStruct(mem, 100, in))

	out, err := readRegionStruct(mem, 100)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRegionValidation(t *testing.T) {
	memSize := uint32(wasmPageSize)

	assert.NoError(t, Region{Offset: 1024, Capacity: 64, Length: 64}.validate(memSize))
	assert.Error(t, Region{Offset: 0, Capacity: 64, Length: 0}.validate(memSize))
	assert.Error(t, Region{Offset: 1024, Capacity: 8, Length: 9}.validate(memSize))
	// capacity reaches past the end of memory
	assert.Error(t, Region{Offset: memSize - 8, Capacity: 16, Length: 0}.validate(memSize))
	// offset+capacity would wrap a u32
	assert.Error(t, Region{Offset: ^uint32(0) - 4, Capacity: 16, Length: 0}.validate(memSize))
}

func TestReadRegion(t *testing.T) {
	mem := testMemory(t)
	payload := []byte("hello world")
	require.True(t, mem.Write(2048, payload))
	require.NoError(t, writeRegionStruct(mem, 100, Region{Offset: 2048, Capacity: 32, Length: uint32(len(payload))}))

	data, err := readRegion(mem, 100, 1024)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// the returned slice is a copy, mutating memory must not change it
	require.True(t, mem.Write(2048, []byte("HELLO")))
	assert.Equal(t, payload, data)
}

func TestReadRegionTooLong(t *testing.T) {
	mem := testMemory(t)
	require.NoError(t, writeRegionStruct(mem, 100, Region{Offset: 2048, Capacity: 64, Length: 50}))

	_, err := readRegion(mem, 100, 49)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestReadRegionEmpty(t *testing.T) {
	mem := testMemory(t)
	require.NoError(t, writeRegionStruct(mem, 100, Region{Offset: 2048, Capacity: 64, Length: 0}))

	data, err := readRegion(mem, 100, 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, data)
}

func TestMaybeReadRegionNullPointer(t *testing.T) {
	mem := testMemory(t)

	data, err := maybeReadRegion(mem, 0, 1024)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestWriteToRegion(t *testing.T) {
	mem := testMemory(t)
	require.NoError(t, writeRegionStruct(mem, 100, Region{Offset: 2048, Capacity: 32, Length: 0}))

	payload := []byte("some value")
	require.NoError(t, writeToRegion(mem, 100, payload))

	// the length field tracks the written size
	region, err := readRegionStruct(mem, 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(payload)), region.Length)

	data, err := readRegion(mem, 100, 1024)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestWriteToRegionTooSmall(t *testing.T) {
	mem := testMemory(t)
	require.NoError(t, writeRegionStruct(mem, 100, Region{Offset: 2048, Capacity: 4, Length: 0}))

	err := writeToRegion(mem, 100, []byte("does not fit"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")

	// a failed write must not touch the length field
	region, err := readRegionStruct(mem, 100)
	require.NoError(t, err)
	assert.Zero(t, region.Length)
}
