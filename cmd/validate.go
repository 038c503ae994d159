package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"chatflow/runtime/loader"
)

var validateTenant string

var validateCmd = &cobra.Command{
	Use:   "validate [flows-dir]",
	Short: "Check flow files for structural problems",
	Long: `Validate loads every YAML and JSON flow file of a directory and reports
duplicate nodes, dangling edges, missing start nodes, unmatched condition
branches and invalid node configs.

Example:
  chatflow validate ./flows
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateTenant, "tenant", "default", "Tenant assigned to flows that declare none")
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir := "flows"
	if len(args) > 0 {
		dir = args[0]
	}

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	flows, err := loader.LoadDir(l, dir, validateTenant)

	out := cmd.OutOrStdout()
	for _, f := range flows {
		fmt.Fprintf(out, "ok    %s/%s (%d nodes, %d edges)\n", f.TenantID, f.ID, len(f.Nodes), len(f.Edges))
	}
	if err != nil {
		fmt.Fprintf(out, "FAIL  %v\n", err)
		return fmt.Errorf("flows in %s have problems", dir)
	}
	if len(flows) == 0 {
		return fmt.Errorf("no flow files found in %s", dir)
	}
	return nil
}
