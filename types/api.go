package types

// HumanizeAddress converts a canonical (binary) address to a human readable
// string. It returns the gas the conversion cost on top of the VM-internal
// charge for moving the bytes.
type HumanizeAddress func(canonical []byte) (human string, gasUsed uint64, err error)

// CanonicalizeAddress converts a human readable address into its canonical
// binary representation.
type CanonicalizeAddress func(human string) (canonical []byte, gasUsed uint64, err error)

// GoAPI is a set of address conversion callbacks the chain provides to the
// contract. Both directions must be deterministic for a given input.
type GoAPI struct {
	HumanizeAddress     HumanizeAddress
	CanonicalizeAddress CanonicalizeAddress
}
