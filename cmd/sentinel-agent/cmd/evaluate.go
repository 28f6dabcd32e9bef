package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/cache"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/fileinfo"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/classify"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/service"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <executable-path>",
	Short: "Evaluate a process against policies without enforcing",
	Long: `Evaluate what the agent would decide for a process launch.

Policies come from the encrypted cache, or from a YAML file given with
--policies. Nothing is terminated and nothing is audited. The file hash
and signer are read from the executable when it exists; --hash and
--publisher override them.

Examples:
  sentinel-agent evaluate /usr/bin/curl
  sentinel-agent evaluate --policies policies.yaml --output yaml C:\Tools\hacktool.exe`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

var (
	evalPoliciesFile string
	evalName         string
	evalHash         string
	evalPublisher    string
	evalOutput       string
)

func init() {
	evaluateCmd.Flags().StringVar(&evalPoliciesFile, "policies", "", "YAML policy file (default: the policy cache)")
	evaluateCmd.Flags().StringVar(&evalName, "name", "", "process name (default: base name of the path)")
	evaluateCmd.Flags().StringVar(&evalHash, "hash", "", "SHA-256 of the executable")
	evaluateCmd.Flags().StringVar(&evalPublisher, "publisher", "", "signer subject of the executable")
	evaluateCmd.Flags().StringVarP(&evalOutput, "output", "o", "text", "output format: text, yaml or json")
	rootCmd.AddCommand(evaluateCmd)
}

// evaluation is the printable result of "evaluate".
type evaluation struct {
	Process     string `json:"process" yaml:"process"`
	Path        string `json:"path" yaml:"path"`
	Installer   bool   `json:"installer" yaml:"installer"`
	ShouldBlock bool   `json:"shouldBlock" yaml:"should_block"`
	PolicyID    string `json:"policyId,omitempty" yaml:"policy_id,omitempty"`
	RuleID      string `json:"ruleId,omitempty" yaml:"rule_id,omitempty"`
	Reason      string `json:"reason" yaml:"reason"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var store policy.Reader
	if evalPoliciesFile != "" {
		policies, err := loadPolicyFile(evalPoliciesFile)
		if err != nil {
			return err
		}
		store = memory.NewPolicyStore(policies...)
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := cache.NewPolicyCache(cfg.Cache.Dir, cfg.Cache.EncryptionKey, logger)
		if err != nil {
			return fmt.Errorf("failed to open policy cache: %w", err)
		}
		store = pc
	}

	obs := observationFor(args[0], evalName, evalHash, evalPublisher)
	result := evaluate(store, obs, logger)
	return writeEvaluation(cmd.OutOrStdout(), evalOutput, result)
}

func observationFor(path, name, hash, publisher string) policy.ProcessObservation {
	if name == "" {
		name = policy.BaseName(path)
	}
	return policy.ProcessObservation{
		Name:           name,
		ExecutablePath: path,
		FileHash:       hash,
		Publisher:      publisher,
		IsInstaller:    classify.IsInstaller(name, path, ""),
	}
}

// evaluate runs the enforcer without a terminator.
func evaluate(store policy.Reader, obs policy.ProcessObservation, logger *slog.Logger) evaluation {
	enforcer := service.NewEnforcer(store, policy.NewMatcher(fileinfo.NewInspector(0)), logger)
	d := enforcer.EvaluateProcess(obs)
	return evaluation{
		Process:     obs.Name,
		Path:        obs.ExecutablePath,
		Installer:   obs.IsInstaller,
		ShouldBlock: d.ShouldBlock,
		PolicyID:    d.PolicyID,
		RuleID:      d.RuleID,
		Reason:      d.Reason,
	}
}

func writeEvaluation(w io.Writer, format string, e evaluation) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(e); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		verdict := "ALLOW"
		if e.ShouldBlock {
			verdict = "BLOCK"
		}
		fmt.Fprintf(w, "%s  %s\n", verdict, e.Process)
		fmt.Fprintf(w, "  %-10s %s\n", "Path:", e.Path)
		fmt.Fprintf(w, "  %-10s %s\n", "Reason:", e.Reason)
		if e.PolicyID != "" {
			fmt.Fprintf(w, "  %-10s %s\n", "Policy:", e.PolicyID)
		}
		if e.RuleID != "" {
			fmt.Fprintf(w, "  %-10s %s\n", "Rule:", e.RuleID)
		}
		if e.Installer {
			fmt.Fprintf(w, "  %-10s yes\n", "Installer:")
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %s (want text, yaml or json)", format)
	}
}
