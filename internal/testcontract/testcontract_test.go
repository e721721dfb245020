package testcontract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wippyai/wasm-runtime/wasm"
)

func TestContractCompiles(t *testing.T) {
	for name, build := range map[string]func() ([]byte, error){
		"standard":     Contract,
		"writeOnQuery": WriteOnQueryContract,
	} {
		t.Run(name, func(t *testing.T) {
			code, err := build()
			require.NoError(t, err)

			module, err := wasm.ParseModule(code)
			require.NoError(t, err)

			exports := make(map[string]struct{})
			for _, export := range module.Exports {
				exports[export.Name] = struct{}{}
			}
			for _, name := range []string{"memory", "interface_version_4", "allocate", "deallocate", "init", "handle", "query"} {
				assert.Contains(t, exports, name)
			}
		})
	}
}
