package target

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/cpuid/v2"
)

func TestParseDefaultTarget(t *testing.T) {
	d, err := Parse("llvm -mcpu=core-avx2")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if d.Kind != "llvm" {
		t.Fatalf("unexpected kind %q", d.Kind)
	}
	if d.MCPU() != "core-avx2" {
		t.Fatalf("unexpected mcpu %q", d.MCPU())
	}
	if got := d.String(); got != "llvm -mcpu=core-avx2" {
		t.Fatalf("unexpected canonical string %q", got)
	}
}

func TestParseKeysAttrsAndFlags(t *testing.T) {
	d, err := Parse("llvm  -keys=arm_cpu,cpu -mtriple=aarch64-linux-gnu -mattr=+neon -link-params")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !reflect.DeepEqual(d.Keys, []string{"arm_cpu", "cpu"}) {
		t.Fatalf("unexpected keys %v", d.Keys)
	}
	if d.Attrs["mtriple"] != "aarch64-linux-gnu" || d.Attrs["mattr"] != "+neon" {
		t.Fatalf("unexpected attrs %v", d.Attrs)
	}
	if !reflect.DeepEqual(d.Flags, []string{"link-params"}) {
		t.Fatalf("unexpected flags %v", d.Flags)
	}
	want := "llvm -keys=arm_cpu,cpu -mattr=+neon -mtriple=aarch64-linux-gnu -link-params"
	if got := d.String(); got != want {
		t.Fatalf("canonical string = %q, want %q", got, want)
	}
}

func TestParseRejectsUnsupported(t *testing.T) {
	cases := []string{"", "   ", "cuda -arch=sm_80", "-mcpu=core-avx2"}
	for _, c := range cases {
		if _, err := Parse(c); !errors.Is(err, ErrUnsupportedTarget) {
			t.Fatalf("Parse(%q): expected ErrUnsupportedTarget, got %v", c, err)
		}
	}
	if _, err := Parse("llvm mcpu=core-avx2"); err == nil {
		t.Fatal("expected malformed option error")
	}
}

func TestResolveARMAlias(t *testing.T) {
	d, err := Resolve("arm")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	want := "llvm -keys=arm_cpu,cpu -device=arm_cpu -model=unknown"
	if got := d.String(); got != want {
		t.Fatalf("arm resolved to %q, want %q", got, want)
	}
}

func TestResolvePassesThroughPlainStrings(t *testing.T) {
	d, err := Resolve("c -mcpu=x86-64")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if d.Kind != "c" {
		t.Fatalf("unexpected kind %q", d.Kind)
	}
}

func TestNativeOnARMHost(t *testing.T) {
	prev := hostArch
	hostArch = "arm64"
	t.Cleanup(func() { hostArch = prev })

	d := Native()
	if d.Attrs["device"] != "arm_cpu" || d.Attrs["mtriple"] != "aarch64-linux-gnu" {
		t.Fatalf("unexpected native descriptor %v", d)
	}
	if d.CrossCompiling() {
		t.Fatal("native descriptor must not be cross compiling")
	}
}

func TestNativeOnX86HostHasMCPU(t *testing.T) {
	prev := hostArch
	hostArch = "amd64"
	t.Cleanup(func() { hostArch = prev })

	d := Native()
	if d.Kind != "llvm" || d.MCPU() == "" {
		t.Fatalf("unexpected native descriptor %v", d)
	}
}

func TestCrossCompiling(t *testing.T) {
	prev := hostArch
	hostArch = "amd64"
	t.Cleanup(func() { hostArch = prev })

	arm, _ := Resolve("arm")
	if !arm.CrossCompiling() {
		t.Fatal("arm_cpu should be cross compiling from amd64")
	}
	x86, _ := Parse("llvm -mtriple=x86_64-linux-gnu -mcpu=core-avx2")
	if x86.CrossCompiling() {
		t.Fatal("x86_64 triple should not be cross compiling on amd64")
	}
	plain, _ := Parse("llvm -mcpu=core-avx2")
	if plain.CrossCompiling() {
		t.Fatal("tripleless llvm target compiles for the host")
	}
}

func TestRequiredFeatures(t *testing.T) {
	d, _ := Parse("llvm -mcpu=core-avx2 -mattr=+avx512f,-fma")
	got := RequiredFeatures(d)
	want := []string{"avx", "avx2", "avx512f"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RequiredFeatures = %v, want %v", got, want)
	}
}

func TestMissingHostFeatures(t *testing.T) {
	prevArch := hostArch
	prevSupports := hostSupports
	hostArch = "amd64"
	hostSupports = func(id cpuid.FeatureID) bool { return id != cpuid.AVX512F && id != cpuid.AVX512VNNI }
	t.Cleanup(func() {
		hostArch = prevArch
		hostSupports = prevSupports
	})

	d, _ := Parse("llvm -mcpu=cascadelake")
	missing := MissingHostFeatures(d)
	if strings.Join(missing, ",") != "avx512f,avx512vnni" {
		t.Fatalf("unexpected missing features %v", missing)
	}

	ok, _ := Parse("llvm -mcpu=core-avx2")
	if got := MissingHostFeatures(ok); len(got) != 0 {
		t.Fatalf("expected no missing features, got %v", got)
	}

	arm, _ := Resolve("arm")
	if got := MissingHostFeatures(arm); got != nil {
		t.Fatalf("cross targets are not checked, got %v", got)
	}
}
