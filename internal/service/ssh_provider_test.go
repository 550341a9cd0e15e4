package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/haatos/multici/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testPrivateKey(t *testing.T) []byte {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func TestNewSSHProvider(t *testing.T) {
	t.Run("success - default port added", func(t *testing.T) {
		// act
		p, err := NewSSHProvider(SSHExecutorConfig{Name: "mac", Host: "mac.local", User: "ci", PrivateKey: testPrivateKey(t)})

		// assert
		require.NoError(t, err)
		assert.Equal(t, "mac.local:22", p.host)
		assert.Equal(t, "ci", p.config.User)
	})
	t.Run("success - explicit port kept", func(t *testing.T) {
		assert.Equal(t, "10.0.0.2:2222", hostWithPort("10.0.0.2:2222"))
	})
	t.Run("failure - invalid private key", func(t *testing.T) {
		// act
		_, err := NewSSHProvider(SSHExecutorConfig{Name: "mac", Host: "mac.local", PrivateKey: []byte("nope")})

		// assert
		assert.ErrorContains(t, err, "parsing private key")
	})
}

func TestSSHProvider_Acquire_Validation(t *testing.T) {
	// arrange
	p, err := NewSSHProvider(SSHExecutorConfig{Name: "mac", Host: "mac.local", PrivateKey: testPrivateKey(t), Tiers: NewTierSet("m1")})
	require.NoError(t, err)

	t.Run("failure - windows shell", func(t *testing.T) {
		// act
		_, err := p.Acquire(context.Background(), AcquireRequest{
			Environment: types.Environment{Kind: types.KindCustom, Image: "mac", Shell: types.ShellWindows},
		})

		// assert
		var provErr *ProvisioningError
		assert.True(t, errors.As(err, &provErr))
	})
	t.Run("failure - unknown resource tier", func(t *testing.T) {
		// act
		_, err := p.Acquire(context.Background(), AcquireRequest{
			Environment: types.Environment{Kind: types.KindCustom, Image: "mac", ResourceTier: "m9"},
		})

		// assert
		var provErr *ProvisioningError
		assert.True(t, errors.As(err, &provErr))
	})
}

func TestRemoteCommand(t *testing.T) {
	// act
	cmd := remoteCommand(ExecRequest{
		Body:    "make\r\ntest",
		Workdir: "/ws/job/work",
		Env:     []string{"B=2", "A=it's"},
	})

	// assert
	assert.Equal(t,
		`cd '/ws/job/work' && exec env 'A=it'"'"'s' 'B=2' '/bin/sh' '-ec' 'make`+"\n"+`test'`,
		cmd,
	)
}
