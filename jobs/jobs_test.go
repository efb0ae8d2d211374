package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2026, 3, 4, 5, 6, 7, 89_000_000, time.UTC)

func writeTemplate(t *testing.T, dir string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("<Language/>"), 0644))
	}
}

func TestListSourceFiles(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "b.xml", "a.xml", "Items/Weapons.xml", "Items/Armor.xml", "Spells/Deep/Fire.xml")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty.xml.d"), 0755))

	files, err := ListSourceFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Items/Armor.xml",
		"Items/Weapons.xml",
		"Spells/Deep/Fire.xml",
		"a.xml",
		"b.xml",
	}, files)
}

func TestNew_TwoLanguagesFiveFiles(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "e.xml", "d.xml", "c.xml", "b.xml", "a.xml")
	files, err := ListSourceFiles(dir)
	require.NoError(t, err)

	j := New(ModeNew, []string{"de", "ja"}, files, created)

	want := []string{"a.xml", "b.xml", "c.xml", "d.xml", "e.xml"}
	assert.Equal(t, want, j.Remaining("de"))
	assert.Equal(t, want, j.Remaining("ja"))
	assert.False(t, j.IsComplete())

	j.Remaining("de")[0] = "mutated"
	assert.Equal(t, "a.xml", j.Remaining("ja")[0], "languages must not share a backing array")
}

func TestNew_IDs(t *testing.T) {
	tests := []struct {
		mode  Mode
		langs []string
		want  string
	}{
		{ModeNew, []string{"de"}, "job_New_de_20260304_050607_089"},
		{ModeNew, []string{"de", "ja"}, "job_New_multi_20260304_050607_089"},
		{ModeFix, []string{"ja"}, "job_Fix_ja_20260304_050607_089"},
		{ModeDebugFix, []string{"ja"}, "job_Debug-Fix_ja_20260304_050607_089"},
		{ModeGenerateManifest, []string{"fr"}, "job_GenerateManifest_fr_20260304_050607_089"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			j := New(tt.mode, tt.langs, nil, created)
			assert.Equal(t, tt.want, j.ID)
			assert.Equal(t, tt.mode, j.Mode())
		})
	}
}

func TestModeFlags(t *testing.T) {
	j := New(ModeDebugFix, []string{"ja"}, nil, created)
	assert.True(t, j.IsFixMode)
	assert.True(t, j.IsDebugMode)
	assert.False(t, j.IsManifestGenerationMode)

	j = New(ModeGenerateManifest, []string{"ja"}, nil, created)
	assert.False(t, j.IsFixMode)
	assert.True(t, j.IsManifestGenerationMode)
}

func TestStore_SaveLoadDelete(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), DefaultDir))
	j := New(ModeFix, []string{"de", "ja"}, []string{"a.xml", "b.xml"}, created)
	j.SetRemaining("de", nil)

	require.NoError(t, s.Save(j))

	got, err := s.Load(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j, got)
	assert.Equal(t, []string{}, got.Remaining("de"))

	require.NoError(t, s.Delete(j.ID))
	_, err = s.Load(j.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(j.ID), "deleting twice is fine")
}

func TestStore_JSONSchema(t *testing.T) {
	s := NewStore(t.TempDir())
	j := New(ModeDebugFix, []string{"ja"}, []string{"a.xml"}, created)
	require.NoError(t, s.Save(j))

	data, err := os.ReadFile(filepath.Join(s.Dir(), j.ID+".json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"jobId": "job_Debug-Fix_ja_20260304_050607_089",
		"targetLanguages": ["ja"],
		"failedFiles": {"ja": ["a.xml"]},
		"isFixMode": true,
		"isDebugMode": true,
		"isManifestGenerationMode": false
	}`, string(data))
}

func TestStore_ResumableIDsNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())

	ids, err := s.ResumableIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	older := New(ModeNew, []string{"de"}, nil, created)
	newer := New(ModeFix, []string{"ja"}, nil, created.Add(time.Second))
	require.NoError(t, s.Save(older))
	require.NoError(t, s.Save(newer))
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), older.ID+".json"), created, created))
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), newer.ID+".json"), created.Add(time.Hour), created.Add(time.Hour)))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "other.json"), []byte("{}"), 0644))

	ids, err = s.ResumableIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, older.ID}, ids)
}

func TestIsComplete(t *testing.T) {
	j := New(ModeNew, []string{"de", "ja"}, []string{"a.xml"}, created)
	j.SetRemaining("de", nil)
	assert.False(t, j.IsComplete())
	j.SetRemaining("ja", []string{})
	assert.True(t, j.IsComplete())
}
