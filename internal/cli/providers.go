package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/haatos/multici/internal"
	"github.com/haatos/multici/internal/security"
	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/settings"
	"github.com/haatos/multici/internal/types"
)

// environments is the provider set built from the configuration together
// with the providers that keep per-run staging directories.
type environments struct {
	providers *service.ProviderSet
	purgers   []service.RunPurger
	closers   []io.Closer
}

func (e *environments) Close() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close provider", "error", err)
		}
	}
}

func newEnvironments(cfg *internal.Configuration, s *settings.AppSettings) (*environments, error) {
	envs := &environments{providers: service.NewProviderSet()}
	tiers := service.NewTierSet(cfg.ResourceTiers...)

	local := service.NewLocalProvider(filepath.Join(s.Workspace, "vm"), tiers)
	envs.providers.Register(types.KindVM, local)
	envs.purgers = append(envs.purgers, local)

	if cfg.Containerd.Enabled {
		limits := make(map[string]uint64, len(cfg.Containerd.MemoryMB))
		for tier, mb := range cfg.Containerd.MemoryMB {
			limits[tier] = mb * 1024 * 1024
		}
		cp, err := service.NewContainerProvider(
			cfg.Containerd.Address,
			cfg.Containerd.Namespace,
			cfg.Containerd.Snapshotter,
			filepath.Join(s.Workspace, "containers"),
			limits,
		)
		if err != nil {
			return nil, err
		}
		envs.providers.Register(types.KindContainer, cp)
		envs.purgers = append(envs.purgers, cp)
		envs.closers = append(envs.closers, cp)
	}

	for _, ec := range cfg.Executors {
		workspace := ec.Workspace
		switch ec.Type {
		case internal.ExecutorLocal:
			if workspace == "" {
				workspace = filepath.Join(s.Workspace, "executors", ec.Name)
			}
			p := service.NewLocalExecutor(workspace, service.NewTierSet(ec.Tiers...))
			envs.providers.RegisterExecutor(ec.Name, p)
			envs.purgers = append(envs.purgers, p)
		case internal.ExecutorSSH:
			key, err := executorKey(ec, s.HashKey)
			if err != nil {
				envs.Close()
				return nil, err
			}
			if workspace == "" {
				workspace = "/tmp/" + internal.AppName
			}
			p, err := service.NewSSHProvider(service.SSHExecutorConfig{
				Name:           ec.Name,
				Host:           ec.Host,
				User:           ec.User,
				PrivateKey:     key,
				KnownHostsFile: ec.KnownHostsFile,
				Workspace:      workspace,
				Tiers:          service.NewTierSet(ec.Tiers...),
			})
			if err != nil {
				envs.Close()
				return nil, err
			}
			envs.providers.RegisterExecutor(ec.Name, p)
			envs.purgers = append(envs.purgers, p)
		}
	}
	return envs, nil
}

// executorKey returns the private key of an ssh executor, decrypting the
// configured ciphertext with the hash key when no key file is set.
func executorKey(ec internal.ExecutorConfig, hashKey string) ([]byte, error) {
	if ec.KeyFile != "" {
		key, err := os.ReadFile(ec.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("executor %q: reading key file: %w", ec.Name, err)
		}
		return key, nil
	}
	if hashKey == "" {
		return nil, fmt.Errorf("executor %q: MULTICI_HASH_KEY is required to decrypt encrypted_key", ec.Name)
	}
	key, err := security.NewAESEncrypter([]byte(hashKey)).DecryptAES(ec.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("executor %q: decrypting key: %w", ec.Name, err)
	}
	return key, nil
}
