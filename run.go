package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ricave/ricave-translator/config"
	"github.com/ricave/ricave-translator/i18n"
	"github.com/ricave/ricave-translator/jobs"
	"github.com/ricave/ricave-translator/langmeta"
	"github.com/ricave/ricave-translator/logging"
	"github.com/ricave/ricave-translator/pipeline"
	"github.com/ricave/ricave-translator/settings"
	"github.com/ricave/ricave-translator/translate"
)

// ---------------------------------------------------------------------------
// Job commands
// ---------------------------------------------------------------------------

type commandKind int

const (
	cmdNew commandKind = iota
	cmdAll
	cmdSyncAll
	cmdGenerateManifest
	cmdFix
	cmdDebugFix
)

var commandInfo = map[commandKind]struct {
	use   string
	short string
	long  string
}{
	cmdNew: {"new", "Translate languages from scratch",
		"Translate the whole template tree for the given languages, overwriting\nexisting files.\n\nExample:\n  ricave-translator new --lang de,ja"},
	cmdAll: {"all", "Translate all supported languages from scratch",
		"Translate the whole template tree for every supported language in one job."},
	cmdSyncAll: {"sync-all", "Translate new content and fix all languages",
		"Create one fix job per supported language and run them in order."},
	cmdGenerateManifest: {"generate-manifest", "Generate source hashes for existing translations",
		"Record the source hash of every translated node so later fix runs only\nresend changed text. No requests are sent to the model.\n\nExample:\n  ricave-translator generate-manifest --lang all"},
	cmdFix: {"fix", "Verify and fix missing or outdated translations",
		"Compare each language file against the template and translate only the\nnodes that are missing, changed or broken.\n\nExample:\n  ricave-translator fix --lang de\n  ricave-translator fix --lang all"},
	cmdDebugFix: {"debug-fix", "Report why files need fixing without modifying them",
		"Run the fix comparison without writing anything and save the reasons to\n.translator_debug/debug_fix_report_<job>_<lang>.json."},
}

func newJobCmd(kind commandKind) *cobra.Command {
	var (
		langs          []string
		alwaysInfoFile bool
	)
	info := commandInfo[kind]

	cmd := &cobra.Command{
		Use:   info.use,
		Short: i18n.T(info.short),
		Long:  info.long,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.closeLog()
			if alwaysInfoFile {
				a.settings.AlwaysCreateInfoFile = true
			}

			plans, err := planJobs(kind, append(splitLanguages(langs), splitLanguages(args)...), a.settings.SupportedLanguages, logWarning)
			if err != nil {
				return err
			}
			if len(plans) > 1 {
				logInfo("%s", accent(i18n.T("--- Creating bulk jobs ---")))
			}

			created, err := a.createJobs(plans)
			if err != nil {
				return err
			}
			return a.runJobs(cmd.Context(), created)
		},
	}

	if kind != cmdAll && kind != cmdSyncAll {
		cmd.Flags().StringSliceVar(&langs, "lang", nil, "Language codes (comma-separated, or 'all')")
		_ = cmd.RegisterFlagCompletionFunc("lang", completeLanguages)
	}
	cmd.Flags().BoolVar(&alwaysInfoFile, "always-create-info-file", false, "Always recreate Info.xml, even if it exists")

	return cmd
}

// jobPlan is one job to create: a mode and its languages.
type jobPlan struct {
	mode  jobs.Mode
	langs []string
}

// planJobs turns a command and its language arguments into jobs. Unknown
// codes are reported through warn and skipped.
func planJobs(kind commandKind, langs []string, supported config.Languages, warn func(string, ...any)) ([]jobPlan, error) {
	switch kind {
	case cmdAll:
		return []jobPlan{{mode: jobs.ModeNew, langs: supported.Codes()}}, nil

	case cmdSyncAll:
		var plans []jobPlan
		for _, code := range supported.Codes() {
			plans = append(plans, jobPlan{mode: jobs.ModeFix, langs: []string{code}})
		}
		return plans, nil

	case cmdNew:
		if len(langs) == 0 {
			return nil, errors.New(i18n.T("the new command requires at least one language code"))
		}
		valid := validLanguages(langs, supported, warn)
		if len(valid) == 0 {
			return nil, errors.New(i18n.T("no valid language codes provided"))
		}
		return []jobPlan{{mode: jobs.ModeNew, langs: valid}}, nil
	}

	mode := map[commandKind]jobs.Mode{
		cmdGenerateManifest: jobs.ModeGenerateManifest,
		cmdFix:              jobs.ModeFix,
		cmdDebugFix:         jobs.ModeDebugFix,
	}[kind]

	if len(langs) == 0 {
		return nil, fmt.Errorf(i18n.T("the %s command requires at least one language code or 'all'"), commandInfo[kind].use)
	}
	if len(langs) == 1 && strings.EqualFold(langs[0], "all") {
		langs = supported.Codes()
	}
	valid := validLanguages(langs, supported, warn)
	if len(valid) == 0 {
		return nil, errors.New(i18n.T("no valid language codes provided"))
	}

	plans := make([]jobPlan, 0, len(valid))
	for _, code := range valid {
		plans = append(plans, jobPlan{mode: mode, langs: []string{code}})
	}
	return plans, nil
}

// validLanguages maps codes to their configured spelling and drops unknown
// codes and repeats.
func validLanguages(codes []string, supported config.Languages, warn func(string, ...any)) []string {
	var out []string
	seen := map[string]bool{}
	for _, code := range codes {
		canonical, ok := supported.Canonical(code)
		if !ok {
			warn(i18n.T("Language code '%s' is not supported and will be skipped."), code)
			continue
		}
		if !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	return out
}

// splitLanguages accepts "de,ja", "de ja" and repeated values.
func splitLanguages(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

func completeLanguages(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	s, err := config.Load(filepath.Join(rootDir, config.FileName))
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	out := []string{"all\tEvery supported language"}
	for _, l := range s.SupportedLanguages {
		out = append(out, l.Code+"\t"+l.Name)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// createJobs enumerates the template once and persists a ledger per plan.
func (a *app) createJobs(plans []jobPlan) ([]*jobs.Job, error) {
	files, err := jobs.ListSourceFiles(a.settings.TemplateDir(a.root))
	if err != nil {
		return nil, err
	}
	logInfo(i18n.N("Found %d file", "Found %d files", len(files)), len(files))

	created := make([]*jobs.Job, 0, len(plans))
	for _, p := range plans {
		j := jobs.New(p.mode, p.langs, files, time.Now())
		if err := a.store.Save(j); err != nil {
			return nil, err
		}
		logInfo(i18n.T("Starting new %s job '%s' for languages: %s"),
			accent(p.mode.String()), highlight(j.ID), green(strings.Join(j.TargetLanguages, ", ")))
		created = append(created, j)
	}
	return created, nil
}

// ---------------------------------------------------------------------------
// Running jobs
// ---------------------------------------------------------------------------

// needsOracle reports whether any job will send translation requests.
func needsOracle(list []*jobs.Job) bool {
	for _, j := range list {
		if !j.IsManifestGenerationMode && !j.IsDebugMode {
			return true
		}
	}
	return false
}

// coordinator wires the Gemini transport, the oracle client and the
// pipeline for this run.
func (a *app) coordinator(requireKey bool, progress *progressReporter) (*pipeline.Coordinator, error) {
	api := a.settings.API

	logger := logging.Component("main")

	key, source := settings.ResolveAPIKey(apiKeyFlag, api.GeminiAPIKey, settings.DefaultKeyStore(runtime.GOOS))
	if key == "" && requireKey {
		return nil, errors.New(i18n.T("no Gemini API key found: pass --api-key, set GEMINI_API_KEY or run 'ricave-translator set-key'"))
	}
	if key != "" {
		logger.Debug().Str("source", source).Str("key", settings.MaskKey(key)).Msg("api key resolved")
	}

	prompts, promptsPath, err := translate.LoadPromptsFromDefaultLocations()
	if err != nil {
		logWarning(i18n.T("Using built-in prompts: %v"), err)
		prompts = translate.DefaultPrompts()
	} else {
		logger.Debug().Str("path", promptsPath).Msg("prompts loaded")
	}

	gen := translate.NewGemini(translate.GeminiConfig{
		APIKey:  key,
		Model:   api.ModelName,
		BaseURL: api.BaseURL,
		Proxy:   api.Proxy,
		Logger:  logging.Component("gemini"),
	})

	debugDir := filepath.Join(a.root, translate.DefaultDebugDir)
	client := translate.NewClient(gen, translate.Options{
		BatchSize:            api.APIBatchSize,
		MaxNetworkRetries:    api.MaxNetworkRetries,
		RetryDelay:           api.NetworkRetryDelay,
		Timeout:              api.Timeout(),
		MaxFormattingRetries: api.MaxFormattingRetries,
		IncrementalThreshold: api.IncrementalProcessingThreshold,
		MaxConcurrent:        api.MaxConcurrentRequests,
		DebugDir:             debugDir,
		Prompts:              prompts,
		Logger:               logging.Component("translate"),
		OnLog:                logInfo,
		OnWarn:               logWarning,
	})

	return pipeline.New(client, a.store, pipeline.Options{
		TemplateDir:          a.settings.TemplateDir(a.root),
		LanguagesDir:         a.settings.LanguagesDir(a.root),
		Languages:            a.settings.SupportedLanguages,
		AlwaysCreateInfoFile: a.settings.AlwaysCreateInfoFile,
		MaxConcurrent:        api.MaxConcurrentRequests,
		DebugDir:             debugDir,
		Translate:            client.Options(),
		OnLog:                logInfo,
		OnWarn:               logWarning,
		OnLanguageStart:      progress.start,
		OnFileDone:           progress.done,
	}), nil
}

// runJobs runs the jobs one after another and prints their summaries.
func (a *app) runJobs(ctx context.Context, list []*jobs.Job) error {
	progress := newProgressReporter(logOutput, verbose)
	coord, err := a.coordinator(needsOracle(list), progress)
	if err != nil {
		return err
	}

	var failed []string
	for _, j := range list {
		if ctx.Err() != nil {
			logWarning(i18n.T("Job '%s' was not started. Resume it with: ricave-translator resume %s"), j.ID, j.ID)
			continue
		}

		res, err := coord.Run(ctx, j)
		progress.finish()
		if res != nil {
			printJobSummary(logOutput, j, res.Outcomes)
		}
		if err != nil {
			logError(i18n.T("Job '%s' stopped: %v"), j.ID, err)
			failed = append(failed, j.ID)
			continue
		}

		if res.Complete {
			logSuccess(i18n.T("Job '%s' completed."), j.ID)
		} else {
			logWarning(i18n.T("Job '%s' has unfinished files. Resume it with: ricave-translator resume %s"), j.ID, j.ID)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf(i18n.T("%d job(s) stopped with errors"), len(failed))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Summaries
// ---------------------------------------------------------------------------

func printJobSummary(w io.Writer, j *jobs.Job, outcomes []pipeline.Outcome) {
	byLanguage := map[string][]pipeline.Outcome{}
	var order []string
	for _, o := range outcomes {
		if _, ok := byLanguage[o.Language]; !ok {
			order = append(order, o.Language)
		}
		byLanguage[o.Language] = append(byLanguage[o.Language], o)
	}

	for _, lang := range order {
		s := pipeline.Summarize(byLanguage[lang])
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s\n", green(fmt.Sprintf(i18n.T("%d files processed successfully for %s."), s.Succeeded, lang)))
		if s.Failed > 0 {
			fmt.Fprintf(w, "%s\n", red(fmt.Sprintf(i18n.T("%d files failed for %s:"), s.Failed, lang)))
			for _, f := range s.Failures {
				fmt.Fprintf(w, "%s\n", red(fmt.Sprintf("    %s: %s", f.File, f.Error)))
			}
		}
		if verbose {
			for _, o := range byLanguage[lang] {
				line := fmt.Sprintf("%s: %s", o.Status, o.File)
				if o.Status == pipeline.StatusFailed {
					fmt.Fprintln(w, red(line))
				} else {
					fmt.Fprintln(w, green(line))
				}
			}
		}
	}

	if len(j.TargetLanguages) <= 1 {
		return
	}

	s := pipeline.Summarize(outcomes)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", accent(fmt.Sprintf(i18n.T("Overall Job Summary: %d succeeded, %d failed, %d processed."), s.Succeeded, s.Failed, s.Total())))
	langs, groups := s.FailuresByLanguage()
	for _, lang := range langs {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s\n", red(fmt.Sprintf(i18n.T("Failures for %s:"), lang)))
		for _, f := range groups[lang] {
			fmt.Fprintf(w, "%s\n", red(fmt.Sprintf("    %s: %s", f.File, f.Error)))
		}
	}
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

// progressReporter draws one bar per language pass when the output is a
// terminal. Workers call done concurrently.
type progressReporter struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	verbose bool
	bar     *progressbar.ProgressBar
}

func newProgressReporter(out io.Writer, verbose bool) *progressReporter {
	enabled := false
	if f, ok := out.(*os.File); ok {
		enabled = term.IsTerminal(int(f.Fd()))
	}
	return &progressReporter{out: out, enabled: enabled, verbose: verbose}
}

func (p *progressReporter) start(formal string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", formal)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.out) }),
	)
}

func (p *progressReporter) done(o pipeline.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Add(1)
		return
	}
	if p.verbose {
		if o.Status == pipeline.StatusFailed {
			logWarning("%s: %s", o.File, o.Error)
		} else {
			logInfo("%s %s", green("✓"), o.File)
		}
	}
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// ---------------------------------------------------------------------------
// resume
// ---------------------------------------------------------------------------

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [job-id]",
		Short: i18n.T("Resume an interrupted or partially failed job"),
		Long: `Continue a job from its ledger in .translator_jobs/. Only files that failed
or never ran are processed. Without a job id an interactive picker is shown;
when stdin is not a terminal the newest job is resumed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.closeLog()

			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				id, err = a.selectJob()
				if err != nil {
					return err
				}
				if id == "" {
					return nil
				}
			}

			j, err := a.store.Load(id)
			if err != nil {
				return err
			}
			logInfo(i18n.T("Resuming job '%s' for languages: %s"), highlight(j.ID), green(strings.Join(j.TargetLanguages, ", ")))
			return a.runJobs(cmd.Context(), []*jobs.Job{j})
		},
	}
}

// selectJob picks the job to resume. It returns "" when there is none or
// the picker was aborted.
func (a *app) selectJob() (string, error) {
	ids, err := a.store.ResumableIDs()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		logSuccess("%s", i18n.T("No incomplete jobs found to resume."))
		return "", nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		logInfo(i18n.T("No job id given, resuming the newest job '%s'."), ids[0])
		return ids[0], nil
	}

	choice := ids[0]
	err = huh.NewSelect[string]().
		Title(i18n.T("Please select a job to resume:")).
		Options(huh.NewOptions(ids...)...).
		Height(min(len(ids)+2, 12)).
		Value(&choice).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", nil
		}
		return "", fmt.Errorf("job picker: %w", err)
	}
	return choice, nil
}

// ---------------------------------------------------------------------------
// set-key
// ---------------------------------------------------------------------------

func newSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key [key]",
		Short: i18n.T("Store the Gemini API key in the platform key store"),
		Long: `Save the Gemini API key with the platform's secret store: libsecret
(secret-tool) on Linux, the login keychain on macOS, and the user data
directory (auth.json, mode 0600) elsewhere or when no helper is installed.

The key is read from the argument, an interactive masked prompt, or stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				var err error
				key, err = readKey(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New(i18n.T("no API key provided"))
			}

			ks := settings.DefaultKeyStore(runtime.GOOS)
			if err := ks.SaveKey(key); err != nil {
				return fmt.Errorf("saving key to %s: %w", ks.Name(), err)
			}
			logSuccess(i18n.T("API key %s saved to %s."), settings.MaskKey(key), ks.Name())
			return nil
		},
	}
}

// readKey asks for the key with a masked input on a terminal and reads one
// line from in otherwise.
func readKey(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		var key string
		err := huh.NewInput().
			Title(i18n.T("Gemini API key")).
			Description("https://aistudio.google.com/apikey").
			EchoMode(huh.EchoModePassword).
			Value(&key).
			Run()
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return "", nil
			}
			return "", fmt.Errorf("key prompt: %w", err)
		}
		return key, nil
	}

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		return "", nil
	}
	return scanner.Text(), nil
}

// langLabel is the flag and native name shown in the languages table.
func langLabel(code string) string {
	m, ok := langmeta.Lookup(code)
	if !ok {
		return ""
	}
	if m.Flag == "" {
		return m.Name
	}
	return m.Flag + " " + m.Name
}
