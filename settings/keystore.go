package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// KeyStore saves and loads the API key in a platform secret store.
type KeyStore interface {
	// Name identifies the store in messages.
	Name() string
	SaveKey(key string) error
	// LoadKey returns "" and no error when no key is stored.
	LoadKey() (string, error)
}

// runFunc runs an external helper and returns its stdout and stderr.
type runFunc func(stdin, name string, args ...string) (string, string, error)

func runCommand(stdin, name string, args ...string) (string, string, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// DefaultKeyStore selects the key store for goos. Helper-based stores fall
// back to the file store when their helper binary is not installed.
func DefaultKeyStore(goos string) KeyStore {
	switch goos {
	case "linux", "freebsd", "openbsd":
		if _, err := exec.LookPath("secret-tool"); err == nil {
			return NewSecretToolStore()
		}
	case "darwin":
		if _, err := exec.LookPath("security"); err == nil {
			return NewKeychainStore()
		}
	}
	return FileStore{}
}

// ---------------------------------------------------------------------------
// File store
// ---------------------------------------------------------------------------

// FileStore keeps the key in auth.json.
type FileStore struct{}

func (FileStore) Name() string { return "auth.json" }

func (FileStore) SaveKey(key string) error {
	return SetAPIKey(ProviderGemini, key)
}

func (FileStore) LoadKey() (string, error) {
	return GetAPIKey(ProviderGemini), nil
}

// ---------------------------------------------------------------------------
// libsecret (secret-tool)
// ---------------------------------------------------------------------------

// SecretToolStore keeps the key in the Secret Service via secret-tool.
type SecretToolStore struct {
	run runFunc
}

// NewSecretToolStore returns a store backed by the secret-tool binary.
func NewSecretToolStore() *SecretToolStore {
	return &SecretToolStore{run: runCommand}
}

var secretAttrs = []string{"service", dataDirName, "account", "GeminiApiKey"}

func (s *SecretToolStore) Name() string { return "secret-tool" }

func (s *SecretToolStore) SaveKey(key string) error {
	args := append([]string{"store", "--label=Ricave Translator API Key"}, secretAttrs...)
	if _, stderr, err := s.run(key, "secret-tool", args...); err != nil {
		return fmt.Errorf("secret-tool store: %w: %s", err, strings.TrimSpace(stderr))
	}
	return nil
}

func (s *SecretToolStore) LoadKey() (string, error) {
	args := append([]string{"lookup"}, secretAttrs...)
	stdout, stderr, err := s.run("", "secret-tool", args...)
	if err != nil {
		// lookup exits 1 with no output when nothing is stored
		var exitErr *exec.ExitError
		notFound := errors.As(err, &exitErr) && strings.TrimSpace(stderr) == ""
		if notFound || strings.Contains(stderr, "No such item") {
			return "", nil
		}
		return "", fmt.Errorf("secret-tool lookup: %w: %s", err, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

// ---------------------------------------------------------------------------
// macOS keychain (security)
// ---------------------------------------------------------------------------

const (
	keychainService = "RicaveTranslator"
	keychainAccount = "GeminiApiKey"
)

// KeychainStore keeps the key as a generic password in the login keychain.
type KeychainStore struct {
	run runFunc
}

// NewKeychainStore returns a store backed by the security binary.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{run: runCommand}
}

func (k *KeychainStore) Name() string { return "keychain" }

func (k *KeychainStore) SaveKey(key string) error {
	_, stderr, err := k.run("", "security", "add-generic-password",
		"-a", keychainAccount, "-s", keychainService, "-w", key, "-U")
	if err != nil {
		return fmt.Errorf("security add-generic-password: %w: %s", err, strings.TrimSpace(stderr))
	}
	return nil
}

func (k *KeychainStore) LoadKey() (string, error) {
	stdout, stderr, err := k.run("", "security", "find-generic-password",
		"-a", keychainAccount, "-s", keychainService, "-w")
	if err != nil {
		if strings.Contains(stderr, "could not be found") {
			return "", nil
		}
		return "", fmt.Errorf("security find-generic-password: %w: %s", err, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}
