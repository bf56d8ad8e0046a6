// Package target parses and resolves compiler target strings such as
// "llvm -mcpu=core-avx2" into descriptors, and checks the ISA extensions a
// descriptor asks for against the host CPU.
package target

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

const (
	// AliasARM resolves to the generic arm_cpu descriptor.
	AliasARM = "arm"
	// AliasNative resolves to an llvm descriptor tuned for the host CPU.
	AliasNative = "native"
)

// ErrUnsupportedTarget is returned for target kinds that cannot run on the
// CPU graph executor.
var ErrUnsupportedTarget = errors.New("unsupported target")

var supportedKinds = map[string]bool{
	"llvm": true,
	"c":    true,
}

// Descriptor is a parsed target string.
type Descriptor struct {
	Kind  string            `json:"kind"`
	Keys  []string          `json:"keys,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Flags []string          `json:"flags,omitempty"`
}

// Parse splits a target string into kind, -keys, -key=value attributes and
// bare -flags. Values may not contain whitespace.
func Parse(s string) (Descriptor, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Descriptor{}, fmt.Errorf("%w: empty target string", ErrUnsupportedTarget)
	}
	d := Descriptor{Kind: fields[0], Attrs: map[string]string{}}
	if strings.HasPrefix(d.Kind, "-") {
		return Descriptor{}, fmt.Errorf("%w: missing target kind in %q", ErrUnsupportedTarget, s)
	}
	if !supportedKinds[d.Kind] {
		return Descriptor{}, fmt.Errorf("%w: kind %q", ErrUnsupportedTarget, d.Kind)
	}
	for _, f := range fields[1:] {
		if !strings.HasPrefix(f, "-") {
			return Descriptor{}, fmt.Errorf("malformed target option %q in %q", f, s)
		}
		opt := strings.TrimLeft(f, "-")
		key, value, hasValue := strings.Cut(opt, "=")
		if key == "" {
			return Descriptor{}, fmt.Errorf("malformed target option %q in %q", f, s)
		}
		switch {
		case key == "keys" && hasValue:
			d.Keys = splitList(value)
		case hasValue:
			d.Attrs[key] = value
		default:
			d.Flags = append(d.Flags, key)
		}
	}
	return d, nil
}

// Resolve expands aliases and parses everything else.
func Resolve(s string) (Descriptor, error) {
	switch strings.TrimSpace(s) {
	case AliasARM:
		return ARMCPU("unknown"), nil
	case AliasNative:
		return Native(), nil
	}
	return Parse(s)
}

// ARMCPU mirrors the compiler's arm_cpu(model) helper.
func ARMCPU(model string) Descriptor {
	if model == "" {
		model = "unknown"
	}
	return Descriptor{
		Kind: "llvm",
		Keys: []string{"arm_cpu", "cpu"},
		Attrs: map[string]string{
			"device": "arm_cpu",
			"model":  model,
		},
	}
}

var hostArch = runtime.GOARCH

// Native builds a descriptor for the machine running tvmbench.
func Native() Descriptor {
	if hostArch == "arm64" {
		d := ARMCPU("unknown")
		d.Attrs["mtriple"] = "aarch64-linux-gnu"
		return d
	}
	return Descriptor{
		Kind:  "llvm",
		Attrs: map[string]string{"mcpu": hostMCPU()},
	}
}

func hostMCPU() string {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512VNNI):
		return "cascadelake"
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ, cpuid.AVX512BW, cpuid.AVX512VL):
		return "skylake-avx512"
	case cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3):
		return "core-avx2"
	case cpuid.CPU.Supports(cpuid.AVX):
		return "corei7-avx"
	default:
		return "x86-64"
	}
}

// String renders the canonical target string: kind, keys, sorted attributes,
// then flags.
func (d Descriptor) String() string {
	parts := []string{d.Kind}
	if len(d.Keys) > 0 {
		parts = append(parts, "-keys="+strings.Join(d.Keys, ","))
	}
	names := make([]string, 0, len(d.Attrs))
	for k := range d.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("-%s=%s", k, d.Attrs[k]))
	}
	for _, f := range d.Flags {
		parts = append(parts, "-"+f)
	}
	return strings.Join(parts, " ")
}

// MCPU returns the -mcpu attribute, if any.
func (d Descriptor) MCPU() string { return d.Attrs["mcpu"] }

// CrossCompiling reports whether the descriptor names a triple for an
// architecture other than the host's.
func (d Descriptor) CrossCompiling() bool {
	triple := d.Attrs["mtriple"]
	if triple == "" {
		return d.Attrs["device"] == "arm_cpu" && hostArch != "arm64"
	}
	arch, _, _ := strings.Cut(triple, "-")
	switch hostArch {
	case "amd64":
		return arch != "x86_64"
	case "arm64":
		return arch != "aarch64" && arch != "arm64"
	default:
		return true
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
