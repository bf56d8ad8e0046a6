package tvmbench

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mwiater/tvmbench/internal/appconfig"
	"github.com/mwiater/tvmbench/internal/target"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve values the benchmark would use",
}

// resolveTargetCmd prints the canonical target string, the ISA features it
// asks for and those the host CPU lacks.
var resolveTargetCmd = &cobra.Command{
	Use:   "target [target string]",
	Short: "Resolve a target string or alias (arm, native)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			d := appconfig.Defaults()
			cfg = &d
		}
		raw := cfg.Target
		if len(args) > 0 {
			raw = strings.Join(args, " ")
		}
		desc, err := target.Resolve(raw)
		if err != nil {
			return err
		}
		required := target.RequiredFeatures(desc)
		missing := target.MissingHostFeatures(desc)

		out := cmd.OutOrStdout()
		if cfg.JSONMode {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Input      string            `json:"input"`
				Target     string            `json:"target"`
				Descriptor target.Descriptor `json:"descriptor"`
				Required   []string          `json:"requiredFeatures"`
				Missing    []string          `json:"missingFeatures"`
				Cross      bool              `json:"crossCompiling"`
			}{raw, desc.String(), desc, required, missing, desc.CrossCompiling()})
		}

		fmt.Fprintf(out, "Target:    %s\n", desc.String())
		if desc.MCPU() != "" {
			fmt.Fprintf(out, "CPU:       %s\n", desc.MCPU())
		}
		if len(required) > 0 {
			fmt.Fprintf(out, "Features:  %s\n", strings.Join(required, ", "))
		}
		switch {
		case desc.CrossCompiling():
			fmt.Fprintln(out, "Host:      cross-compiling, host features not checked")
		case len(missing) > 0:
			fmt.Fprintf(out, "Host:      missing %s\n", strings.Join(missing, ", "))
		default:
			fmt.Fprintln(out, "Host:      ok")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.AddCommand(resolveTargetCmd)
}
