package vm

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"
)

const (
	// wasmPageSize is the size of a linear memory page.
	wasmPageSize = 65536

	// regionStructSize is the byte size of a Region struct in guest memory:
	// three little-endian u32 fields.
	regionStructSize = 12
)

// Region describes a slice of guest linear memory allocated by the contract.
// Guest and host exchange data exclusively through pointers to this struct.
//
// The layout in guest memory is fixed: offset, capacity and length as
// consecutive little-endian u32 values.
type Region struct {
	// Offset is the start of the referenced data in linear memory.
	Offset uint32
	// Capacity is the number of bytes allocated starting at Offset.
	Capacity uint32
	// Length is the number of bytes in use, always <= Capacity.
	Length uint32
}

// validate checks the internal consistency of a Region against the current
// memory size. Contracts hand us Region pointers, so every field is
// untrusted input.
func (r Region) validate(memSize uint32) error {
	if r.Offset == 0 {
		return zeroAddress()
	}
	if r.Length > r.Capacity {
		return CommunicationError{Msg: "region length exceeds capacity"}
	}
	if uint64(r.Offset)+uint64(r.Capacity) > uint64(memSize) {
		return regionOutOfRange(r.Offset, r.Capacity, int(memSize))
	}
	return nil
}

// readRegionStruct reads and validates the Region struct at ptr.
func readRegionStruct(mem api.Memory, ptr uint32) (Region, error) {
	raw, ok := mem.Read(ptr, regionStructSize)
	if !ok {
		return Region{}, regionOutOfRange(ptr, regionStructSize, int(mem.Size()))
	}
	region := Region{
		Offset:   binary.LittleEndian.Uint32(raw[0:4]),
		Capacity: binary.LittleEndian.Uint32(raw[4:8]),
		Length:   binary.LittleEndian.Uint32(raw[8:12]),
	}
	if err := region.validate(mem.Size()); err != nil {
		return Region{}, err
	}
	return region, nil
}

// writeRegionStruct writes a Region struct to ptr.
func writeRegionStruct(mem api.Memory, ptr uint32, region Region) error {
	if !mem.WriteUint32Le(ptr, region.Offset) ||
		!mem.WriteUint32Le(ptr+4, region.Capacity) ||
		!mem.WriteUint32Le(ptr+8, region.Length) {
		return regionOutOfRange(ptr, regionStructSize, int(mem.Size()))
	}
	return nil
}

// readRegion reads the data a Region pointer refers to, rejecting anything
// longer than maxLength. The returned slice is a copy, safe to retain after
// guest execution resumes.
func readRegion(mem api.Memory, ptr uint32, maxLength int) ([]byte, error) {
	region, err := readRegionStruct(mem, ptr)
	if err != nil {
		return nil, err
	}
	if int(region.Length) > maxLength {
		return nil, regionLengthTooBig(int(region.Length), maxLength)
	}
	if region.Length == 0 {
		return []byte{}, nil
	}
	data, ok := mem.Read(region.Offset, region.Length)
	if !ok {
		return nil, regionOutOfRange(region.Offset, region.Length, int(mem.Size()))
	}
	out := make([]byte, region.Length)
	copy(out, data)
	return out, nil
}

// maybeReadRegion is like readRegion but treats a null pointer as an absent
// optional value, which is how contracts encode missing iteration bounds.
func maybeReadRegion(mem api.Memory, ptr uint32, maxLength int) ([]byte, error) {
	if ptr == 0 {
		return nil, nil
	}
	return readRegion(mem, ptr, maxLength)
}

// writeToRegion writes data into the Region at ptr, which must have been
// allocated by the guest with sufficient capacity. The Region's length field
// is updated to the written size.
func writeToRegion(mem api.Memory, ptr uint32, data []byte) error {
	region, err := readRegionStruct(mem, ptr)
	if err != nil {
		return err
	}
	if int(region.Capacity) < len(data) {
		return regionTooSmall(int(region.Capacity), len(data))
	}
	if len(data) > 0 && !mem.Write(region.Offset, data) {
		return regionOutOfRange(region.Offset, uint32(len(data)), int(mem.Size()))
	}
	// update the length field only
	if !mem.WriteUint32Le(ptr+8, uint32(len(data))) {
		return regionOutOfRange(ptr+8, 4, int(mem.Size()))
	}
	return nil
}
