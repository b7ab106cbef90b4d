// Package target loads and validates descriptors of the custom bare-metal
// build target. A descriptor is an external, versioned JSON document owned by
// the toolchain; it is treated as opaque beyond the fields validated here and
// is immutable for the whole duration of a pipeline run.
package target

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Endianness is the byte order the target executes with.
type Endianness string

const (
	// EndianLittle is little-endian byte order.
	EndianLittle Endianness = "little"
	// EndianBig is big-endian byte order.
	EndianBig Endianness = "big"
)

// PanicStrategy describes how the core library reacts to unrecoverable errors.
type PanicStrategy string

const (
	// PanicAbort halts immediately. The only strategy a loader-less kernel
	// supports: there is no unwinding runtime underneath it.
	PanicAbort PanicStrategy = "abort"
	// PanicUnwind unwinds the stack. Requires runtime support the target
	// does not have; kept so descriptors declaring it fail loudly.
	PanicUnwind PanicStrategy = "unwind"
)

// CodeModel bounds the addressable distance between code and data references.
type CodeModel string

const (
	// CodeModelSmall keeps code and data within a 2 GiB span near zero.
	CodeModelSmall CodeModel = "small"
	// CodeModelMedium allows large data but still keeps code near zero.
	CodeModelMedium CodeModel = "medium"
	// CodeModelLarge places no restriction on symbol addresses.
	CodeModelLarge CodeModel = "large"
)

// RelocationModel describes whether generated code assumes a fixed load
// address or must be fixed up by a loader.
type RelocationModel string

const (
	// RelocStatic assumes the final link address at code-generation time.
	RelocStatic RelocationModel = "static"
	// RelocPIC emits position-independent code for a load-time loader.
	RelocPIC RelocationModel = "pic"
)

// LinkAddress is the virtual address the kernel image is linked at.
// Descriptors spell it as a hex string ("0xFFFFFFFF80000000").
type LinkAddress uint64

// UnmarshalJSON accepts both hex strings and plain JSON numbers.
func (a *LinkAddress) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		base := 10
		if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
			s = rest
			base = 16
		}
		v, err := strconv.ParseUint(s, base, 64)
		if err != nil {
			return fmt.Errorf("invalid link address %q: %w", s, err)
		}
		*a = LinkAddress(v)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid link address: %w", err)
	}
	*a = LinkAddress(v)
	return nil
}

// MarshalJSON renders the address in the hex form descriptors use.
func (a LinkAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a LinkAddress) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Descriptor is the immutable specification of the build target. Field names
// follow the toolchain's JSON schema; unknown fields are ignored since the
// schema is owned externally.
type Descriptor struct {
	Triple           string          `json:"llvm-target"`
	Arch             string          `json:"arch"`
	OS               string          `json:"os"`
	DataLayout       string          `json:"data-layout"`
	PointerWidth     int             `json:"pointer-width"`
	Endianness       Endianness      `json:"endianness"`
	ABI              string          `json:"abi"`
	PanicStrategy    PanicStrategy   `json:"panic-strategy"`
	CodeModel        CodeModel       `json:"code-model"`
	RelocationModel  RelocationModel `json:"relocation-model"`
	TLSModel         string          `json:"tls-model"`
	LinkerFlavor     string          `json:"linker-flavor"`
	Features         string          `json:"features"`
	DisableRedzone   bool            `json:"disable-redzone"`
	Executables      bool            `json:"executables"`
	LinkAddress      LinkAddress     `json:"link-address"`
	LoaderRelocation bool            `json:"loader-relocation"`
}

// ConfigurationError reports a missing, malformed, or internally inconsistent
// target descriptor. It is always fatal: proceeding would let the builder fall
// back to a default host target and silently produce unbootable objects.
type ConfigurationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("target descriptor %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("target descriptor %s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Load reads and validates a descriptor file. The returned value is never
// mutated afterwards; reconfiguring a build requires a fresh Load behind a
// full reset.
func Load(path string) (*Descriptor, error) {
	// #nosec G304 -- path comes from the project manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Reason: "cannot read descriptor", Err: err}
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, &ConfigurationError{Path: path, Reason: "malformed JSON", Err: err}
	}
	if err := desc.validate(path); err != nil {
		return nil, err
	}
	return &desc, nil
}

func (d *Descriptor) validate(path string) error {
	fail := func(reason string) error {
		return &ConfigurationError{Path: path, Reason: reason}
	}
	if strings.TrimSpace(d.Triple) == "" {
		return fail("missing llvm-target")
	}
	if strings.TrimSpace(d.Arch) == "" {
		return fail("missing arch")
	}
	if d.PointerWidth != 32 && d.PointerWidth != 64 {
		return fail(fmt.Sprintf("unsupported pointer-width %d (expected 32 or 64)", d.PointerWidth))
	}
	switch d.Endianness {
	case EndianLittle, EndianBig:
	case "":
		return fail("missing endianness")
	default:
		return fail(fmt.Sprintf("unknown endianness %q", d.Endianness))
	}
	switch d.PanicStrategy {
	case PanicAbort:
	case PanicUnwind:
		return fail("panic-strategy unwind declared, but no unwinding runtime exists for this target")
	case "":
		return fail("missing panic-strategy")
	default:
		return fail(fmt.Sprintf("unknown panic-strategy %q", d.PanicStrategy))
	}
	switch d.CodeModel {
	case CodeModelSmall, CodeModelMedium, CodeModelLarge:
	case "":
		return fail("missing code-model")
	default:
		return fail(fmt.Sprintf("unknown code-model %q", d.CodeModel))
	}
	switch d.RelocationModel {
	case RelocStatic, RelocPIC:
	case "":
		return fail("missing relocation-model")
	default:
		return fail(fmt.Sprintf("unknown relocation-model %q", d.RelocationModel))
	}
	if d.LinkAddress == 0 {
		return fail("missing link-address")
	}
	if d.PointerWidth == 32 && uint64(d.LinkAddress) > 1<<32-1 {
		return fail(fmt.Sprintf("link-address %s exceeds the 32-bit address space", d.LinkAddress))
	}
	// Cross-field consistency: a descriptor declaring a model its own link
	// address cannot satisfy is a toolchain bug and must not reach the
	// compiler.
	if !d.CodeModel.Addressable(d.LinkAddress) {
		return fail(fmt.Sprintf("code-model %s cannot address link-address %s", d.CodeModel, d.LinkAddress))
	}
	if d.RelocationModel == RelocPIC && !d.LoaderRelocation {
		return fail("relocation-model pic declared, but no loader performs load-time fix-ups")
	}
	if d.RelocationModel == RelocStatic && d.LoaderRelocation {
		return fail("relocation-model static declared for a loader-relocated target")
	}
	return nil
}
