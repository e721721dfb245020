// Package metering rewrites contract bytecode so that execution cost is
// charged deterministically at run time. It injects an imported charge
// function and prefixes every straight-line block of instructions with a
// call paying for that block up front.
//
// The instrumented binary is what the compiled-module cache persists, so a
// given code checksum always executes with identical charging.
package metering

import (
	"bytes"
	"fmt"

	"github.com/wippyai/wasm-runtime/wasm"
)

// The charge function contracts end up importing. User code must not import
// this name itself; the validator's whitelist already rejects that.
const (
	ImportModule = "env"
	ImportName   = "gas"
)

// Flat instruction costs, in wasm gas.
const (
	costDefault      = 1
	costCall         = 5
	costCallIndirect = 10
	// memory.grow moves whole pages, price it well above plain ops
	costMemoryGrow = 512
)

// bulk-memory sub-opcodes of the 0xFC prefix run up to table.fill
const maxMiscSubOpcode = 17

// Instrument injects gas metering into a contract binary. The result
// imports env.gas in addition to the module's own imports; custom sections
// are dropped since they have no execution semantics.
func Instrument(code []byte) ([]byte, error) {
	m, err := wasm.ParseModule(code)
	if err != nil {
		return nil, fmt.Errorf("deserializing module: %w", err)
	}

	// The new import lands after all existing function imports, so only
	// locally defined functions shift by one.
	gasIdx := uint32(m.NumImportedFuncs())
	typeIdx, err := gasTypeIndex(m)
	if err != nil {
		return nil, err
	}
	m.Imports = append(m.Imports, wasm.Import{
		Module: ImportModule,
		Name:   ImportName,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
	})

	shift := func(idx uint32) uint32 {
		if idx >= gasIdx {
			return idx + 1
		}
		return idx
	}

	for i := range m.Exports {
		if m.Exports[i].Kind == wasm.KindFunc {
			m.Exports[i].Idx = shift(m.Exports[i].Idx)
		}
	}
	if m.Start != nil {
		start := shift(*m.Start)
		m.Start = &start
	}
	for i := range m.Elements {
		if len(m.Elements[i].Exprs) > 0 {
			return nil, fmt.Errorf("unsupported element segment with expression entries")
		}
		for j := range m.Elements[i].FuncIdxs {
			m.Elements[i].FuncIdxs[j] = shift(m.Elements[i].FuncIdxs[j])
		}
	}

	for i := range m.Code {
		instrumented, err := instrumentBody(m.Code[i].Code, gasIdx, shift)
		if err != nil {
			return nil, fmt.Errorf("instrumenting function %d: %w", i, err)
		}
		m.Code[i].Code = instrumented
	}

	m.CustomSections = nil
	return m.Encode(), nil
}

// gasTypeIndex returns the index of the (i32) -> () function type, adding
// it to the type section if the module does not have one yet.
func gasTypeIndex(m *wasm.Module) (uint32, error) {
	for i, ft := range m.Types {
		if len(ft.Params) == 1 && ft.Params[0] == wasm.ValI32 && len(ft.Results) == 0 {
			return uint32(i), nil
		}
	}
	for _, td := range m.TypeDefs {
		if td.Kind != wasm.TypeDefKindFunc {
			return 0, fmt.Errorf("unsupported non-function type definitions")
		}
	}
	ft := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	m.Types = append(m.Types, ft)
	// The decoder leaves TypeDefs empty for plain function-type modules and
	// the encoder then falls back to Types. Mirror the new type into
	// TypeDefs only when the module carries them.
	if len(m.TypeDefs) > 0 {
		m.TypeDefs = append(m.TypeDefs, wasm.TypeDef{Kind: wasm.TypeDefKindFunc, Func: &ft})
	}
	return uint32(len(m.Types) - 1), nil
}

// instrumentBody splits a function body into metering blocks at control
// boundaries and prefixes each block with a charge for the instructions it
// contains. Call immediates are remapped to account for the injected
// import.
func instrumentBody(code []byte, gasIdx uint32, shift func(uint32) uint32) ([]byte, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return nil, err
	}

	out := make([]wasm.Instruction, 0, 2*len(instrs))
	batch := make([]wasm.Instruction, 0, len(instrs))
	var cost uint64

	flush := func() {
		if len(batch) == 0 {
			return
		}
		out = append(out,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(cost)}},
			wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: gasIdx}},
		)
		out = append(out, batch...)
		batch = batch[:0]
		cost = 0
	}

	for _, instr := range instrs {
		if instr.Opcode == wasm.OpCall {
			imm := instr.Imm.(wasm.CallImm)
			imm.FuncIdx = shift(imm.FuncIdx)
			instr.Imm = imm
		}

		c, err := instructionCost(instr)
		if err != nil {
			return nil, err
		}
		cost += c
		batch = append(batch, instr)

		if isControlBoundary(instr.Opcode) {
			flush()
		}
	}
	flush()

	var buf bytes.Buffer
	for i := range out {
		wasm.EncodeInstructionTo(&buf, &out[i])
	}
	return buf.Bytes(), nil
}

// isControlBoundary reports whether execution may leave the straight-line
// sequence after this instruction, which ends the current metering block.
func isControlBoundary(opcode byte) bool {
	switch opcode {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse, wasm.OpEnd,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn,
		wasm.OpUnreachable, wasm.OpCall, wasm.OpCallIndirect:
		return true
	}
	return false
}

// instructionCost prices a single instruction, rejecting everything outside
// the deterministic subset contracts may use.
func instructionCost(instr wasm.Instruction) (uint64, error) {
	switch instr.Opcode {
	case wasm.OpCall:
		return costCall, nil
	case wasm.OpCallIndirect:
		return costCallIndirect, nil
	case wasm.OpMemoryGrow:
		return costMemoryGrow, nil
	case wasm.OpPrefixMisc:
		imm, ok := instr.Imm.(wasm.MiscImm)
		if !ok || imm.SubOpcode > maxMiscSubOpcode {
			return 0, fmt.Errorf("unsupported misc instruction")
		}
		return costDefault, nil
	case wasm.OpPrefixSIMD, wasm.OpPrefixAtomic, wasm.OpPrefixGC:
		return 0, fmt.Errorf("unsupported instruction prefix 0x%02x", instr.Opcode)
	case wasm.OpReturnCall, wasm.OpReturnCallIndirect, wasm.OpCallRef, wasm.OpReturnCallRef:
		return 0, fmt.Errorf("unsupported call instruction 0x%02x", instr.Opcode)
	case wasm.OpRefNull, wasm.OpRefIsNull, wasm.OpRefFunc, wasm.OpRefAsNonNull, wasm.OpRefEq:
		return 0, fmt.Errorf("unsupported reference instruction 0x%02x", instr.Opcode)
	}
	return costDefault, nil
}
