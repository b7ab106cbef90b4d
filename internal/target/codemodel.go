package target

// smallModelMax is the highest link address the small and medium code models
// can reach: both keep code within a 2 GiB span starting at zero. The medium
// model only relaxes data placement, so for a kernel linked in the high half
// it is just as unusable as small.
const smallModelMax = 1<<31 - 1

// Addressable reports whether code linked at addr is reachable under the
// model. The large model carries full 64-bit addressing and is never out of
// range.
func (m CodeModel) Addressable(addr LinkAddress) bool {
	switch m {
	case CodeModelSmall, CodeModelMedium:
		return uint64(addr) <= smallModelMax
	case CodeModelLarge:
		return true
	default:
		return false
	}
}

// RequiresLargeModel reports whether addr lies outside the span the small and
// medium models can address, making the large model mandatory.
func RequiresLargeModel(addr LinkAddress) bool {
	return uint64(addr) > smallModelMax
}
