// Package secrets turns encrypted keystores into in-memory signing keys.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"

	"github.com/ligun0805/mintbot/internal/bundlecore"
)

// readPassword is swapped in tests.
var readPassword = promptPassword

// LoadKeystore decrypts the V3 keystore at path. The password is taken from
// the passwordEnv variable or, when unset, prompted for on the terminal.
func LoadKeystore(path, passwordEnv, prompt string) (*bundlecore.SecretKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	pw := os.Getenv(passwordEnv)
	if pw == "" {
		if pw, err = readPassword(prompt); err != nil {
			return nil, err
		}
	}
	return Decrypt(data, pw)
}

// Decrypt decrypts keystore JSON with pw.
func Decrypt(keyJSON []byte, pw string) (*bundlecore.SecretKey, error) {
	key, err := keystore.DecryptKey(keyJSON, pw)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	b := crypto.FromECDSA(key.PrivateKey)
	clear(key.PrivateKey.D.Bits())
	key.PrivateKey.D.SetInt64(0)
	return bundlecore.NewSecretKey(b), nil
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no password in environment and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
