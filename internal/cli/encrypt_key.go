package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/haatos/multici/internal/security"
	"github.com/haatos/multici/internal/settings"
)

const hashKeyLength = 32

// EncryptKeyCmd is the 'multici encrypt-key' command. It prints the
// ciphertext to put in an executor's encrypted_key field.
type EncryptKeyCmd struct {
	KeyFile     string `arg:"" optional:"" help:"Private key file. The key is read from stdin when omitted." type:"existingfile"`
	GenerateKey bool   `help:"Print a new random hash key and exit."`
}

func (c *EncryptKeyCmd) Run(ctx context.Context) error {
	if c.GenerateKey {
		key, err := security.GenerateRandomKey(hashKeyLength)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}

	hashKey := []byte(settings.Settings.HashKey)
	if len(hashKey) == 0 {
		var err error
		hashKey, err = security.ReadSecret(int(os.Stdin.Fd()), os.Stdin, os.Stderr, "hash key: ")
		if err != nil {
			return err
		}
	}

	var key []byte
	var err error
	if c.KeyFile != "" {
		key, err = os.ReadFile(c.KeyFile)
	} else {
		key, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	encrypted, err := encryptKey(hashKey, key)
	if err != nil {
		return err
	}
	fmt.Println(encrypted)
	return nil
}

func encryptKey(hashKey, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("private key is empty")
	}
	switch len(hashKey) {
	case 16, 24, 32:
	default:
		return "", fmt.Errorf("hash key must be 16, 24 or 32 bytes, got %d", len(hashKey))
	}
	return security.NewAESEncrypter(hashKey).EncryptAES(string(key))
}
