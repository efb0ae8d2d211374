// Package manifest implements translation_manifest.json, the per-language
// fingerprint table that records the SHA-1 of every source node whose
// translation has been written to the language tree. A node whose source text
// still hashes to the stored value is not sent to the oracle again.
//
// The manifest lives in the root of each language folder:
//
//	Languages/Japanese (Japan)/translation_manifest.json
//
// On disk it is a flat JSON object: relative file path → node key → hex digest.
package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileName is the manifest file name inside a language folder.
const FileName = "translation_manifest.json"

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// fileHashes is one shard of the manifest: the node hashes of a single file.
type fileHashes struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// Manifest is safe for concurrent use. Each file path is an independent
// shard with its own lock, so workers handling different files never contend
// on node updates.
type Manifest struct {
	mu    sync.RWMutex
	files map[string]*fileHashes
	path  string
}

// New returns an empty manifest that will be saved to path.
func New(path string) *Manifest {
	return &Manifest{
		files: make(map[string]*fileHashes),
		path:  path,
	}
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads the manifest from the given language directory.
// Returns an empty manifest if the file doesn't exist.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	m := New(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return m, nil
	}

	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for file, hashes := range raw {
		shard := &fileHashes{hashes: make(map[string]string, len(hashes))}
		for key, h := range hashes {
			shard.hashes[key] = h
		}
		m.files[Key(file)] = shard
	}

	return m, nil
}

// Save writes the manifest to disk.
func (m *Manifest) Save() error {
	if m.path == "" {
		return fmt.Errorf("manifest path not set")
	}

	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(m.path), err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("writing %s: %w", m.path, err)
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// ---------------------------------------------------------------------------
// Hash operations
// ---------------------------------------------------------------------------

// Hash computes the lowercase SHA-1 hex digest of a string.
func Hash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Key normalizes a relative file path into a manifest key.
func Key(relPath string) string {
	return filepath.ToSlash(strings.ReplaceAll(relPath, `\`, "/"))
}

// shard returns the shard for file, creating it when create is set.
func (m *Manifest) shard(file string, create bool) *fileHashes {
	file = Key(file)

	m.mu.RLock()
	s := m.files[file]
	m.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s = m.files[file]; s == nil {
		s = &fileHashes{hashes: make(map[string]string)}
		m.files[file] = s
	}
	return s
}

// Lookup returns the stored hash for a node.
func (m *Manifest) Lookup(file, key string) (string, bool) {
	s := m.shard(file, false)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[key]
	return h, ok
}

// IsChanged reports whether content differs from the stored hash for a node.
// A node without a stored hash is changed.
func (m *Manifest) IsChanged(file, key, content string) bool {
	stored, ok := m.Lookup(file, key)
	if !ok {
		return true
	}
	return !strings.EqualFold(stored, Hash(content))
}

// Update records the hash of content for a node. Call it only after the
// node's translation has been written to the target file.
func (m *Manifest) Update(file, key, content string) {
	m.Set(file, key, Hash(content))
}

// Set stores a precomputed hash for a node.
func (m *Manifest) Set(file, key, hash string) {
	s := m.shard(file, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[key] = strings.ToLower(hash)
}

// UpdateBatch records hashes for multiple nodes of one file.
// entries maps node key -> source content.
func (m *Manifest) UpdateBatch(file string, entries map[string]string) {
	if len(entries) == 0 {
		return
	}
	s := m.shard(file, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, content := range entries {
		s.hashes[key] = Hash(content)
	}
}

// FileHashes returns a copy of the node hashes stored for file, or nil.
func (m *Manifest) FileHashes(file string) map[string]string {
	s := m.shard(file, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.hashes))
	for k, v := range s.hashes {
		out[k] = v
	}
	return out
}

// Clean removes hashes of nodes that are no longer present in file.
func (m *Manifest) Clean(file string, currentKeys []string) {
	s := m.shard(file, false)
	if s == nil {
		return
	}

	valid := make(map[string]bool, len(currentKeys))
	for _, k := range currentKeys {
		valid[k] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.hashes {
		if !valid[k] {
			delete(s.hashes, k)
		}
	}
}

// RemoveFile drops every hash recorded for file.
func (m *Manifest) RemoveFile(file string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, Key(file))
}

// Snapshot returns a deep copy of the manifest contents.
func (m *Manifest) Snapshot() map[string]map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]string, len(m.files))
	for file, s := range m.files {
		s.mu.RLock()
		inner := make(map[string]string, len(s.hashes))
		for k, v := range s.hashes {
			inner[k] = v
		}
		s.mu.RUnlock()
		out[file] = inner
	}
	return out
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of files and total node hashes.
func (m *Manifest) Stats() (files, keys int) {
	for _, hashes := range m.Snapshot() {
		files++
		keys += len(hashes)
	}
	return
}

// Files returns the sorted list of file keys.
func (m *Manifest) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]string, 0, len(m.files))
	for f := range m.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Summary returns a human-readable summary string.
func (m *Manifest) Summary() string {
	files, keys := m.Stats()
	if files == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d files, %d nodes", files, keys)
}
