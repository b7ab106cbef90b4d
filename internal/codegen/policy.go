// Package codegen applies the fixed code-generation policy of a kernel build
// to a target descriptor and renders the effective compiler flags.
//
// Every unit of a build is compiled under one policy; the checks here reject
// policy/target combinations that the compiler would happily accept but that
// produce objects which link and then fail to boot. That class of failure has
// no diagnostic anywhere downstream, so it must be caught before the first
// compiler invocation.
package codegen

import (
	"fmt"
	"strings"

	"kforge/internal/target"
)

// Emission selects what the compiler is allowed to produce.
type Emission string

const (
	// EmitObject restricts the compiler to object files; final placement is
	// the linker script's job.
	EmitObject Emission = "obj"
	// EmitExecutable lets the compiler link a final executable itself.
	EmitExecutable Emission = "link"
)

// FlagsEnvKey is the environment variable the external staged builder reads
// compiler flags from. The pipeline sets exactly the flags rendered by Apply
// and nothing else.
const FlagsEnvKey = "XBUILD_FLAGS"

// Policy is the uniform code-generation contract for one build invocation.
type Policy struct {
	Emission        Emission
	CodeModel       target.CodeModel
	RelocationModel target.RelocationModel
}

// KernelPolicy returns the only policy a high-half, loader-less kernel build
// accepts: object-only emission, large code model, static relocation.
func KernelPolicy() Policy {
	return Policy{
		Emission:        EmitObject,
		CodeModel:       target.CodeModelLarge,
		RelocationModel: target.RelocStatic,
	}
}

// EffectiveFlags is the validated result of applying a policy to a target.
type EffectiveFlags struct {
	Triple string
	Args   []string
}

// String renders the flags the way they travel through FlagsEnvKey.
func (f EffectiveFlags) String() string {
	return strings.Join(f.Args, " ")
}

// Env returns the single KEY=VALUE entry to append to the builder environment.
func (f EffectiveFlags) Env() string {
	return FlagsEnvKey + "=" + f.String()
}

// IncompatiblePolicyError reports a policy that is valid on its own but
// unsound for the declared target. Always fatal.
type IncompatiblePolicyError struct {
	Triple string
	Reason string
}

func (e *IncompatiblePolicyError) Error() string {
	return fmt.Sprintf("codegen policy incompatible with %s: %s", e.Triple, e.Reason)
}

// Apply validates the policy against the descriptor and renders the effective
// flags. Acceptance is strict in both directions: a model too small for the
// link address is rejected, and so is a needlessly large one — a descriptor
// that fits the small model was written for a different kind of target and
// the mismatch is worth failing on.
func Apply(p Policy, desc *target.Descriptor) (EffectiveFlags, error) {
	var flags EffectiveFlags
	if desc == nil {
		return flags, fmt.Errorf("missing target descriptor")
	}
	fail := func(format string, args ...any) error {
		return &IncompatiblePolicyError{Triple: desc.Triple, Reason: fmt.Sprintf(format, args...)}
	}

	switch p.Emission {
	case EmitObject:
	case EmitExecutable:
		if !desc.Executables {
			return flags, fail("target cannot host linked executables; only object emission is supported")
		}
	default:
		return flags, fail("unknown emission kind %q", p.Emission)
	}

	switch p.CodeModel {
	case target.CodeModelSmall, target.CodeModelMedium:
		if target.RequiresLargeModel(desc.LinkAddress) {
			return flags, fail("code model %s cannot address link address %s; relocations would silently truncate at link time",
				p.CodeModel, desc.LinkAddress)
		}
	case target.CodeModelLarge:
		if !target.RequiresLargeModel(desc.LinkAddress) {
			return flags, fail("large code model requested but link address %s fits the small model", desc.LinkAddress)
		}
	default:
		return flags, fail("unknown code model %q", p.CodeModel)
	}
	if desc.CodeModel != p.CodeModel {
		return flags, fail("descriptor declares code model %s, policy mandates %s", desc.CodeModel, p.CodeModel)
	}

	switch p.RelocationModel {
	case target.RelocStatic:
		if desc.LoaderRelocation {
			return flags, fail("static relocation requested but the target relies on loader fix-ups")
		}
	case target.RelocPIC:
		if !desc.LoaderRelocation {
			return flags, fail("position-independent code requested but no loader performs load-time fix-ups")
		}
	default:
		return flags, fail("unknown relocation model %q", p.RelocationModel)
	}
	if desc.RelocationModel != p.RelocationModel {
		return flags, fail("descriptor declares relocation model %s, policy mandates %s", desc.RelocationModel, p.RelocationModel)
	}

	flags.Triple = desc.Triple
	flags.Args = []string{
		"--emit=" + string(p.Emission),
		"-C", "code-model=" + string(p.CodeModel),
		"-C", "relocation-model=" + string(p.RelocationModel),
	}
	return flags, nil
}
