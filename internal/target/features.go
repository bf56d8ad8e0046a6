package target

import (
	"sort"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

var mcpuFeatures = map[string][]string{
	"x86-64":         {"sse2"},
	"corei7":         {"sse4.2"},
	"corei7-avx":     {"sse4.2", "avx"},
	"core-avx2":      {"avx", "avx2", "fma"},
	"haswell":        {"avx", "avx2", "fma"},
	"skylake":        {"avx", "avx2", "fma"},
	"znver2":         {"avx", "avx2", "fma"},
	"znver3":         {"avx", "avx2", "fma"},
	"skylake-avx512": {"avx2", "fma", "avx512f", "avx512dq", "avx512bw", "avx512vl"},
	"cascadelake":    {"avx2", "fma", "avx512f", "avx512dq", "avx512bw", "avx512vl", "avx512vnni"},
	"icelake-server": {"avx2", "fma", "avx512f", "avx512dq", "avx512bw", "avx512vl", "avx512vnni"},
}

var featureIDs = map[string]cpuid.FeatureID{
	"sse2":       cpuid.SSE2,
	"sse4.2":     cpuid.SSE42,
	"avx":        cpuid.AVX,
	"avx2":       cpuid.AVX2,
	"fma":        cpuid.FMA3,
	"avx512f":    cpuid.AVX512F,
	"avx512dq":   cpuid.AVX512DQ,
	"avx512bw":   cpuid.AVX512BW,
	"avx512vl":   cpuid.AVX512VL,
	"avx512vnni": cpuid.AVX512VNNI,
	"neon":       cpuid.ASIMD,
}

var hostSupports = func(id cpuid.FeatureID) bool {
	return cpuid.CPU.Supports(id)
}

// RequiredFeatures lists the ISA extensions implied by -mcpu plus those
// enabled with -mattr=+feat. Features disabled with -feat are dropped.
func RequiredFeatures(d Descriptor) []string {
	set := map[string]bool{}
	for _, f := range mcpuFeatures[d.MCPU()] {
		set[f] = true
	}
	if attr := d.Attrs["mattr"]; attr != "" {
		for _, item := range splitList(attr) {
			switch item[0] {
			case '+':
				set[strings.ToLower(item[1:])] = true
			case '-':
				delete(set, strings.ToLower(item[1:]))
			default:
				set[strings.ToLower(item)] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// MissingHostFeatures returns required features the host CPU lacks. Cross
// compilation targets are never checked, and features cpuid does not know
// are skipped.
func MissingHostFeatures(d Descriptor) []string {
	if d.CrossCompiling() {
		return nil
	}
	var missing []string
	for _, f := range RequiredFeatures(d) {
		id, ok := featureIDs[f]
		if !ok {
			continue
		}
		if !hostSupports(id) {
			missing = append(missing, f)
		}
	}
	return missing
}
