package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/cache"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List cached policies",
	Long: `List the policies in the encrypted cache, highest priority first.

The YAML output can be passed back to "evaluate --policies".

Examples:
  sentinel-agent policies
  sentinel-agent policies --output yaml > policies.yaml`,
	RunE: runPolicies,
}

var policiesOutput string

func init() {
	policiesCmd.Flags().StringVarP(&policiesOutput, "output", "o", "text", "output format: text or yaml")
	rootCmd.AddCommand(policiesCmd)
}

func runPolicies(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pc, err := cache.NewPolicyCache(cfg.Cache.Dir, cfg.Cache.EncryptionKey, newLogger(os.Stderr, cfg))
	if err != nil {
		return fmt.Errorf("failed to open policy cache: %w", err)
	}
	return writePolicies(cmd.OutOrStdout(), policiesOutput, pc.All())
}

func writePolicies(w io.Writer, format string, policies []policy.Policy) error {
	policy.SortByPriority(policies)

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toPolicyFile(policies)); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		if len(policies) == 0 {
			fmt.Fprintln(w, "No cached policies.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PRIORITY\tID\tNAME\tMODE\tACTIVE\tRULES")
		for _, p := range policies {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%d\n", p.Priority, p.ID, p.Name, p.Mode, p.Active, len(p.Rules))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %s (want text or yaml)", format)
	}
}

