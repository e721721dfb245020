// Package compat statically checks contract bytecode against the fixed
// compatibility contract of the VM before it is accepted into the cache: the
// import whitelist, the required exports, the memory declaration and the
// feature requirements.
package compat

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-runtime/wasm"
)

// SupportedImports lists all imports the VM provides when instantiating a
// contract. This must be updated when new host functions are added.
var SupportedImports = []string{
	"env.db_read",
	"env.db_write",
	"env.db_remove",
	"env.db_scan",
	"env.db_next",
	"env.canonicalize_address",
	"env.humanize_address",
	"env.query_chain",
}

// RequiredExports lists all entry points we expect to be present when
// calling a contract. Basically, anything that is used in calls.go.
var RequiredExports = []string{
	"interface_version_4",
	"query",
	"init",
	"handle",
	"allocate",
	"deallocate",
}

// memoryPageCeiling is the largest initial memory a contract may declare,
// in 64 KiB pages. The effective maximum at runtime is imposed by the host.
const memoryPageCeiling = 512

// requiresPrefix marks exports through which a contract declares the chain
// features it needs.
const requiresPrefix = "requires_"

// CheckWasm checks that the given bytes are valid wasm and compatible with
// the VM's API and the chain's supported feature set.
func CheckWasm(wasmCode []byte, supportedFeatures map[string]struct{}) error {
	module, err := wasm.ParseModule(wasmCode)
	if err != nil {
		return fmt.Errorf("Wasm bytecode could not be deserialized. Deserialization error: %q", err)
	}
	if err := checkMemories(module); err != nil {
		return err
	}
	if err := checkImports(module); err != nil {
		return err
	}
	if err := checkExports(module); err != nil {
		return err
	}
	return checkFeatures(module, supportedFeatures)
}

// RequiredFeatures returns the features a contract declares through its
// requires_* exports.
func RequiredFeatures(module *wasm.Module) map[string]struct{} {
	required := make(map[string]struct{})
	for _, export := range module.Exports {
		if name, ok := strings.CutPrefix(export.Name, requiresPrefix); ok && name != "" {
			required[name] = struct{}{}
		}
	}
	return required
}

func checkMemories(module *wasm.Module) error {
	if len(module.Memories) != 1 {
		return fmt.Errorf("Wasm contract must contain exactly one memory, found %d", len(module.Memories))
	}
	memory := module.Memories[0]
	if memory.Limits.Min > memoryPageCeiling {
		return fmt.Errorf("Wasm contract memory's minimum must not exceed %d pages, found %d", memoryPageCeiling, memory.Limits.Min)
	}
	// The host imposes the effective maximum itself. A module declaring its
	// own maximum would make the effective limit ambiguous.
	if memory.Limits.Max != nil {
		return fmt.Errorf("Wasm contract memory's maximum must be unset. The host will set it for you")
	}
	return nil
}

func checkImports(module *wasm.Module) error {
	for _, imp := range module.Imports {
		fullName := fmt.Sprintf("%s.%s", imp.Module, imp.Name)
		supported := false
		for _, name := range SupportedImports {
			if fullName == name {
				supported = true
				break
			}
		}
		if !supported {
			return fmt.Errorf(
				"Wasm contract requires unsupported import: %q. Imports supported by VM: %q. Contract version too new for this VM?",
				fullName, SupportedImports)
		}
		// Allowed names are functions; a memory or global smuggled in under
		// one of them is still invalid.
		if imp.Desc.Kind != wasm.KindFunc {
			return fmt.Errorf("Wasm contract import %q must be a function", fullName)
		}
	}
	return nil
}

func checkExports(module *wasm.Module) error {
	available := make(map[string]struct{}, len(module.Exports))
	for _, export := range module.Exports {
		available[export.Name] = struct{}{}
	}
	for _, required := range RequiredExports {
		if _, ok := available[required]; !ok {
			return fmt.Errorf(
				"Wasm contract doesn't have required export: %q. Exports required by VM: %q. Contract version too old for this VM?",
				required, RequiredExports)
		}
	}
	return nil
}

func checkFeatures(module *wasm.Module, supported map[string]struct{}) error {
	for feature := range RequiredFeatures(module) {
		if _, ok := supported[feature]; !ok {
			return fmt.Errorf("Wasm contract requires unsupported feature: %q", feature)
		}
	}
	return nil
}
