package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/atomicfile"
	"github.com/Sentinel-Gate/sentinel-agent/internal/config"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate the argon2id hash of an intake token",
	Long: `Generate an argon2id hash of an intake token for use in config.

The output can be used directly as server.intake_token_hash. Observers and
the justification UI then send the token as "Authorization: Bearer <token>".

Without an argument the token is read from the first line of stdin, which
keeps it out of shell history.

Example:
  printf '%s\n' "$INTAKE_TOKEN" | sentinel-agent hash-token
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("token must not be empty")
		}

		hash, err := http.HashIntakeToken(token)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

// intakeAuth builds the verifier for the listener's /v1 routes. Without a
// configured hash a fresh token is generated and written, owner-only, to
// the intake token file.
func intakeAuth(cfg *config.AgentConfig, logger *slog.Logger) (*http.IntakeAuth, error) {
	if cfg.Server.IntakeTokenHash != "" {
		return http.NewIntakeAuth(cfg.Server.IntakeTokenHash)
	}

	token, err := http.GenerateIntakeToken()
	if err != nil {
		return nil, err
	}
	path := cfg.IntakeTokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create intake token dir: %w", err)
	}
	if err := atomicfile.Write(path, []byte(token+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("write intake token: %w", err)
	}
	hash, err := http.HashIntakeToken(token)
	if err != nil {
		return nil, err
	}
	logger.Info("generated intake token", "path", path)
	return http.NewIntakeAuth(hash)
}
