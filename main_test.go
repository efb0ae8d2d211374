package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ricave/ricave-translator/config"
	"github.com/ricave/ricave-translator/jobs"
	"github.com/ricave/ricave-translator/manifest"
	"github.com/ricave/ricave-translator/pipeline"
)

func init() {
	color.NoColor = true
}

var testLanguages = config.Languages{
	{Code: "de", Name: "German (Germany)"},
	{Code: "ja", Name: "Japanese (Japan)"},
	{Code: "zh-TW", Name: "Chinese (Traditional, Taiwan)"},
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := logOutput
	logOutput = &buf
	t.Cleanup(func() { logOutput = old })
	return &buf
}

func TestPlanJobs(t *testing.T) {
	tests := []struct {
		name    string
		kind    commandKind
		langs   []string
		want    []jobPlan
		warns   int
		wantErr string
	}{
		{
			name: "all is one new job",
			kind: cmdAll,
			want: []jobPlan{{jobs.ModeNew, []string{"de", "ja", "zh-TW"}}},
		},
		{
			name: "sync-all is one fix job per language",
			kind: cmdSyncAll,
			want: []jobPlan{
				{jobs.ModeFix, []string{"de"}},
				{jobs.ModeFix, []string{"ja"}},
				{jobs.ModeFix, []string{"zh-TW"}},
			},
		},
		{
			name:  "new keeps languages together and canonicalizes",
			kind:  cmdNew,
			langs: []string{"ZH-tw", "de", "de"},
			want:  []jobPlan{{jobs.ModeNew, []string{"zh-TW", "de"}}},
		},
		{
			name:    "new without languages",
			kind:    cmdNew,
			wantErr: "at least one language code",
		},
		{
			name:  "fix splits languages",
			kind:  cmdFix,
			langs: []string{"de", "xx", "ja"},
			want: []jobPlan{
				{jobs.ModeFix, []string{"de"}},
				{jobs.ModeFix, []string{"ja"}},
			},
			warns: 1,
		},
		{
			name:  "debug-fix all",
			kind:  cmdDebugFix,
			langs: []string{"ALL"},
			want: []jobPlan{
				{jobs.ModeDebugFix, []string{"de"}},
				{jobs.ModeDebugFix, []string{"ja"}},
				{jobs.ModeDebugFix, []string{"zh-TW"}},
			},
		},
		{
			name:  "generate-manifest single",
			kind:  cmdGenerateManifest,
			langs: []string{"ja"},
			want:  []jobPlan{{jobs.ModeGenerateManifest, []string{"ja"}}},
		},
		{
			name:    "only unsupported codes",
			kind:    cmdFix,
			langs:   []string{"xx", "yy"},
			warns:   2,
			wantErr: "no valid language codes",
		},
		{
			name:    "fix without languages",
			kind:    cmdFix,
			wantErr: "the fix command requires",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var warnings []string
			warn := func(format string, args ...any) {
				warnings = append(warnings, fmt.Sprintf(format, args...))
			}

			got, err := planJobs(tc.kind, tc.langs, testLanguages, warn)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("planJobs() error = %v, want %q", err, tc.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("planJobs() error: %v", err)
				}
				if !reflect.DeepEqual(got, tc.want) {
					t.Fatalf("planJobs() = %#v, want %#v", got, tc.want)
				}
			}
			if len(warnings) != tc.warns {
				t.Fatalf("warnings = %q, want %d", warnings, tc.warns)
			}
		})
	}
}

func TestSplitLanguages(t *testing.T) {
	got := splitLanguages([]string{"de,ja", "fr ko", "", "pt-BR"})
	want := []string{"de", "ja", "fr", "ko", "pt-BR"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitLanguages() = %#v, want %#v", got, want)
	}
}

func TestRootSubcommands(t *testing.T) {
	want := []string{
		"all", "debug-fix", "fix", "generate-manifest", "languages",
		"new", "resume", "set-key", "sync-all", "version",
	}
	for _, name := range want {
		cmd, _, err := newRootCmd().Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered (err=%v)", name, err)
		}
	}

	fix, _, _ := newRootCmd().Find([]string{"fix"})
	if fix.Flags().Lookup("lang") == nil {
		t.Fatalf("fix has no --lang flag")
	}
	all, _, _ := newRootCmd().Find([]string{"all"})
	if all.Flags().Lookup("lang") != nil {
		t.Fatalf("all should not take --lang")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--root", t.TempDir()})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(out.String(), "ricave-translator version dev") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestPrintLanguages(t *testing.T) {
	var out bytes.Buffer
	printLanguages(&out, testLanguages)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("printLanguages() printed %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[3], "de") || !strings.Contains(lines[3], "German (Germany)") || !strings.Contains(lines[3], "Deutsch") {
		t.Fatalf("row = %q", lines[3])
	}
	if !strings.Contains(lines[5], "🇹🇼 繁體中文") {
		t.Fatalf("row = %q", lines[5])
	}
}

func TestLangLabel(t *testing.T) {
	if got := langLabel("ja"); got != "🇯🇵 日本語" {
		t.Fatalf("langLabel(ja) = %q", got)
	}
	if got := langLabel("zz"); got != "" {
		t.Fatalf("langLabel(zz) = %q, want empty", got)
	}
}

func TestLogHelpers(t *testing.T) {
	buf := captureLog(t)

	logInfo("hello %s", "world")
	logWarning("careful")
	logError("broken: %d", 3)
	logSuccess("done")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := [][2]string{
		{"[INFO]", "hello world"},
		{"[WARN]", "careful"},
		{"[ERROR]", "broken: 3"},
		{"[OK]", "done"},
	}
	if len(lines) != len(want) {
		t.Fatalf("log output = %q", buf.String())
	}
	for i, w := range want {
		if !strings.Contains(lines[i], w[0]) || !strings.HasSuffix(lines[i], " "+w[1]) {
			t.Fatalf("line %d = %q, want %s %s", i, lines[i], w[0], w[1])
		}
	}
}

func TestReadKeyFromReader(t *testing.T) {
	got, err := readKey(strings.NewReader("AIzaSecret\nignored\n"))
	if err != nil {
		t.Fatalf("readKey() error: %v", err)
	}
	if got != "AIzaSecret" {
		t.Fatalf("readKey() = %q", got)
	}

	got, err = readKey(strings.NewReader(""))
	if err != nil || got != "" {
		t.Fatalf("readKey(empty) = %q, %v", got, err)
	}
}

func TestPrintJobSummary(t *testing.T) {
	j := jobs.New(jobs.ModeFix, []string{"de", "ja"}, nil, time.Now())
	outcomes := []pipeline.Outcome{
		{Language: "German (Germany)", File: "a.xml", Status: pipeline.StatusSuccess},
		{Language: "German (Germany)", File: "b.xml", Status: pipeline.StatusFailed, Error: "timed out"},
		{Language: "Japanese (Japan)", File: "a.xml", Status: pipeline.StatusSuccess},
	}

	var out bytes.Buffer
	printJobSummary(&out, j, outcomes)
	got := out.String()

	for _, want := range []string{
		"1 files processed successfully for German (Germany).",
		"1 files failed for German (Germany):",
		"    b.xml: timed out",
		"1 files processed successfully for Japanese (Japan).",
		"Overall Job Summary: 2 succeeded, 1 failed, 3 processed.",
		"Failures for German (Germany):",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Failures for Japanese") {
		t.Fatalf("summary lists a language without failures:\n%s", got)
	}
}

func TestGenerateManifestCommand(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("GEMINI_API_KEY", "")
	captureLog(t)

	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(config.FileName, "supported_languages:\n  de: German (Germany)\n")
	write("TranslationTemplate/items.xml", "<Language>\n  <Desc/>\n  <!--<En>Sword</En>-->\n</Language>\n")
	write("Languages/German (Germany)/items.xml", "<Language>\n  <Desc>Schwert</Desc>\n</Language>\n")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"generate-manifest", "--root", root, "--lang", "de"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	m, err := manifest.Load(filepath.Join(root, "Languages", "German (Germany)"))
	if err != nil {
		t.Fatalf("manifest.Load() error: %v", err)
	}
	if m.IsChanged(manifest.Key("items.xml"), "Desc", "Sword") {
		t.Fatalf("manifest has no hash for Desc")
	}

	left, err := jobs.NewStore(filepath.Join(root, jobs.DefaultDir)).ResumableIDs()
	if err != nil {
		t.Fatalf("ResumableIDs() error: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("completed job left a ledger: %v", left)
	}
}
