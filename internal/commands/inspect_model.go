package tvmbench

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/k0kubun/pp"
	"github.com/mwiater/tvmbench/internal/appconfig"
	"github.com/mwiater/tvmbench/internal/modelstore"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect inputs without starting the framework worker",
}

// inspectModelCmd implements 'inspect model [NAME [BATCH]]'. It checks the
// model directory and summarises the parameter state dict.
var inspectModelCmd = &cobra.Command{
	Use:   "model [name [batch]]",
	Short: "Summarise the state dict of {model}_{batch}",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			d := appconfig.Defaults()
			cfg = &d
		}
		name, batch := cfg.Model, cfg.BatchSize
		if len(args) > 0 {
			name = args[0]
		}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid batch size %q", args[1])
			}
			batch = n
		}

		loc := modelstore.Resolve(cfg.ModelRoot, name, batch)
		inv, err := modelstore.Inspect(loc)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cfg.JSONMode {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Location  modelstore.Location   `json:"location"`
				Inventory *modelstore.Inventory `json:"inventory"`
			}{loc, inv})
		}
		if cfg.Debug {
			pp.Fprintln(cmd.ErrOrStderr(), loc)
		}

		fmt.Fprintf(out, "Model dir: %s\n", loc.Dir)
		fmt.Fprintf(out, "Parameters: %d tensors, %d elements\n\n", len(inv.Parameters), inv.TotalElements)
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSHAPE\tDTYPE\tELEMENTS")
		for _, p := range inv.Parameters {
			fmt.Fprintf(tw, "%s\t%v\t%s\t%d\n", p.Name, p.Shape, p.DType, p.Elements)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.AddCommand(inspectModelCmd)
}
