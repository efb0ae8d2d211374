package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDataDirAndFilePathUseXDGDataHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir() error: %v", err)
	}
	wantDir := filepath.Join(tmp, "ricave-translator")
	if dir != wantDir {
		t.Fatalf("DataDir() = %q, want %q", dir, wantDir)
	}

	wantPath := filepath.Join(wantDir, "auth.json")
	if got := FilePath(); got != wantPath {
		t.Fatalf("FilePath() = %q, want %q", got, wantPath)
	}
	prompts, err := PromptsFilePath()
	if err != nil || prompts != filepath.Join(wantDir, "prompts.json") {
		t.Fatalf("PromptsFilePath() = %q, %v", prompts, err)
	}
}

func TestSaveLoadRemoveLifecycle(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	if err := SetAPIKey(ProviderGemini, "apikey123456"); err != nil {
		t.Fatalf("SetAPIKey() error: %v", err)
	}

	path := filepath.Join(tmp, "ricave-translator", "auth.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat auth.json: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("auth.json mode = %o, want 600", info.Mode().Perm())
	}

	if got := GetAPIKey(ProviderGemini); got != "apikey123456" {
		t.Fatalf("GetAPIKey = %q", got)
	}

	if err := Remove("missing-provider"); err != nil {
		t.Fatalf("Remove(missing) should be no-op, got: %v", err)
	}
	if err := Remove(ProviderGemini); err != nil {
		t.Fatalf("Remove(gemini) error: %v", err)
	}
	if got := GetAPIKey(ProviderGemini); got != "" {
		t.Fatalf("GetAPIKey after remove = %q, want empty", got)
	}

	if err := RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("auth.json should be removed, stat err=%v", err)
	}
	if got := Load(); len(got) != 0 {
		t.Fatalf("Load() after RemoveAll should be empty, got=%#v", got)
	}
}

func TestResolveAPIKeyPriority(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	if err := (FileStore{}).SaveKey("stored-key"); err != nil {
		t.Fatalf("SaveKey() error: %v", err)
	}

	t.Setenv(EnvAPIKey, "env-key")

	if got, src := ResolveAPIKey("flag-key", "cfg-key", FileStore{}); got != "flag-key" || src != "flag" {
		t.Fatalf("flag should win, got %q from %q", got, src)
	}
	if got, _ := ResolveAPIKey("", "cfg-key", FileStore{}); got != "env-key" {
		t.Fatalf("env should win over config, got %q", got)
	}

	t.Setenv(EnvAPIKey, "")
	if got, _ := ResolveAPIKey("", "cfg-key", FileStore{}); got != "cfg-key" {
		t.Fatalf("config should win over store, got %q", got)
	}
	if got, src := ResolveAPIKey("", "", FileStore{}); got != "stored-key" || src != "auth.json" {
		t.Fatalf("stored key expected, got %q from %q", got, src)
	}
	if got, _ := ResolveAPIKey("", "", nil); got != "" {
		t.Fatalf("no sources should give empty key, got %q", got)
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("short"); got != "****" {
		t.Fatalf("MaskKey(short) = %q, want ****", got)
	}
	if got := MaskKey("12345678"); got != "****" {
		t.Fatalf("MaskKey(8 chars) = %q, want ****", got)
	}
	if got := MaskKey("123456789"); got != "1234...6789" {
		t.Fatalf("MaskKey(9 chars) = %q, want 1234...6789", got)
	}
}

// fakeRun records helper invocations and replays one result.
type fakeRun struct {
	calls  []string
	stdin  string
	stdout string
	stderr string
	err    error
}

func (f *fakeRun) run(stdin, name string, args ...string) (string, string, error) {
	f.stdin = stdin
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	return f.stdout, f.stderr, f.err
}

func TestSecretToolStore(t *testing.T) {
	f := &fakeRun{stdout: "sk-123\n"}
	s := &SecretToolStore{run: f.run}

	if err := s.SaveKey("sk-123"); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if f.stdin != "sk-123" {
		t.Fatalf("key must go through stdin, got %q", f.stdin)
	}
	if want := "secret-tool store --label=Ricave Translator API Key service ricave-translator account GeminiApiKey"; f.calls[0] != want {
		t.Fatalf("store call = %q", f.calls[0])
	}

	key, err := s.LoadKey()
	if err != nil || key != "sk-123" {
		t.Fatalf("LoadKey = %q, %v", key, err)
	}

	f.stdout, f.stderr, f.err = "", "No such item", errors.New("exit status 1")
	if key, err := s.LoadKey(); err != nil || key != "" {
		t.Fatalf("missing item should be empty, got %q, %v", key, err)
	}

	f.stderr = "dbus unavailable"
	if _, err := s.LoadKey(); err == nil {
		t.Fatal("expected helper failure to surface")
	}
}

func TestKeychainStore(t *testing.T) {
	f := &fakeRun{stdout: "sk-mac\n"}
	k := &KeychainStore{run: f.run}

	if err := k.SaveKey("sk-mac"); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if want := "security add-generic-password -a GeminiApiKey -s RicaveTranslator -w sk-mac -U"; f.calls[0] != want {
		t.Fatalf("save call = %q", f.calls[0])
	}
	if key, err := k.LoadKey(); err != nil || key != "sk-mac" {
		t.Fatalf("LoadKey = %q, %v", key, err)
	}

	f.stdout = ""
	f.stderr = "security: SecKeychainSearchCopyNext: The specified item could not be found in the keychain."
	f.err = errors.New("exit status 44")
	if key, err := k.LoadKey(); err != nil || key != "" {
		t.Fatalf("missing item should be empty, got %q, %v", key, err)
	}
}

func TestDefaultKeyStoreFallsBackToFile(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	for _, goos := range []string{"linux", "darwin", "windows", "plan9"} {
		if _, ok := DefaultKeyStore(goos).(FileStore); !ok {
			t.Errorf("DefaultKeyStore(%q) without helpers should be FileStore", goos)
		}
	}
}
