package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/cache"
	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/remote"
	"github.com/Sentinel-Gate/sentinel-agent/internal/config"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Enroll this machine with the management service",
	Long: `Register this machine with the management service.

The service assigns an agent ID and API key, which are stored encrypted
with the cache key in the cache directory. Registering again replaces the
stored identity.

The tenant API key may also be given in SENTINEL_AGENT_TENANT_KEY.

Examples:
  sentinel-agent register --tenant 7d1c... --tenant-key sk_live_...`,
	RunE: runRegister,
}

var (
	registerTenant      string
	registerTenantKey   string
	registerMachineName string
)

func init() {
	registerCmd.Flags().StringVar(&registerTenant, "tenant", "", "tenant ID (default: agent.tenant_id)")
	registerCmd.Flags().StringVar(&registerTenantKey, "tenant-key", "", "tenant API key")
	registerCmd.Flags().StringVar(&registerMachineName, "machine-name", "", "machine name (default: agent.machine_name or hostname)")
	rootCmd.AddCommand(registerCmd)
}

// registrar enrolls an agent.
type registrar interface {
	Register(ctx context.Context, reg outbound.Registration) (outbound.RegistrationResult, error)
}

// identitySaver stores an enrollment.
type identitySaver interface {
	Save(id cache.Identity) error
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required to register")
	}

	logger := newLogger(os.Stderr, cfg)
	store, err := cache.NewIdentityStore(cfg.Cache.Dir, cfg.Cache.EncryptionKey, logger)
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}
	client := remote.NewClient(
		remote.WithBaseURL(cfg.Remote.BaseURL),
		remote.WithTimeout(cfg.Remote.TimeoutDuration()),
		remote.WithLogger(logger),
	)

	tenantKey := registerTenantKey
	if tenantKey == "" {
		tenantKey = os.Getenv("SENTINEL_AGENT_TENANT_KEY")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.TimeoutDuration())
	defer cancel()

	identity, err := register(ctx, client, store, registrationFor(cfg, registerTenant, tenantKey, registerMachineName))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Registered as agent %s\n", identity.AgentID)
	fmt.Fprintf(cmd.OutOrStdout(), "Identity stored in %s\n", store.Path())
	return nil
}

// registrationFor builds the request from flags with config fallbacks.
func registrationFor(cfg *config.AgentConfig, tenant, tenantKey, machineName string) outbound.Registration {
	if tenant == "" {
		tenant = cfg.Agent.TenantID
	}
	if machineName == "" {
		machineName = cfg.Agent.MachineName
	}
	if machineName == "" {
		machineName, _ = os.Hostname()
	}
	return outbound.Registration{
		MachineName:     machineName,
		OperatingSystem: runtime.GOOS + "/" + runtime.GOARCH,
		AgentVersion:    Version,
		TenantID:        strings.TrimSpace(tenant),
		TenantAPIKey:    strings.TrimSpace(tenantKey),
	}
}

// register enrolls and stores the result. Nothing is stored on rejection.
func register(ctx context.Context, r registrar, store identitySaver, reg outbound.Registration) (cache.Identity, error) {
	if reg.TenantID == "" || reg.TenantAPIKey == "" {
		return cache.Identity{}, errors.New("tenant ID and tenant API key are required")
	}

	res, err := r.Register(ctx, reg)
	if err != nil {
		return cache.Identity{}, fmt.Errorf("registration failed: %w", err)
	}

	identity := cache.Identity{
		AgentID:      res.AgentID,
		APIKey:       res.APIKey,
		TenantID:     reg.TenantID,
		RegisteredAt: time.Now().UTC(),
	}
	if err := store.Save(identity); err != nil {
		return cache.Identity{}, fmt.Errorf("failed to store identity: %w", err)
	}
	return identity, nil
}
