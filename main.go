// ricave-translator keeps the localized XML trees of the Ricave game in sync
// with the English template using a Gemini model.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ricave/ricave-translator/config"
	"github.com/ricave/ricave-translator/i18n"
	"github.com/ricave/ricave-translator/jobs"
	"github.com/ricave/ricave-translator/logging"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	infoTag   = color.New(color.FgBlue).Sprint("[INFO]")
	okTag     = color.New(color.FgGreen).Sprint("[OK]")
	warnTag   = color.New(color.Bold, color.FgYellow).Sprint("[WARN]")
	errTag    = color.New(color.FgRed).Sprint("[ERROR]")
	accent    = color.New(color.Bold, color.FgCyan).SprintFunc()
	highlight = color.New(color.Bold, color.FgYellow).SprintFunc()
	green     = color.New(color.FgGreen).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
)

// logOutput receives operator messages; tests swap it.
var logOutput io.Writer = os.Stderr

func logInfo(format string, args ...any) {
	fmt.Fprintf(logOutput, "%s %s\n", infoTag, fmt.Sprintf(format, args...))
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(logOutput, "%s %s\n", okTag, fmt.Sprintf(format, args...))
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(logOutput, "%s %s\n", warnTag, fmt.Sprintf(format, args...))
}

func logError(format string, args ...any) {
	fmt.Fprintf(logOutput, "%s %s\n", errTag, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir      string
	configPath   string
	apiKeyFlag   string
	verbose      bool
	logLevelFlag string
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ricave-translator",
		Short: i18n.T("Synchronize Ricave localization files with the English template"),
		Long: `ricave-translator keeps every language folder of the Ricave game in sync
with the English template tree. Template nodes carry their English source in an
adjacent <!--<En>...</En>--> comment; missing, changed or broken translations are
sent to a Gemini model and written back with all markup preserved.

Commands:
  new                Translate languages from scratch
  all                Translate all supported languages from scratch
  sync-all           Translate new content and fix all languages
  generate-manifest  Record source hashes for existing translations
  fix                Verify and fix missing or outdated translations
  debug-fix          Report why files need fixing without modifying them
  resume             Resume an interrupted or partially failed job
  set-key            Store the Gemini API key in the platform key store
  languages          List supported languages

Settings are read from translator.yaml in the project root.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(filepath.Join(rootDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
				logWarning(i18n.T("Could not read .env: %v"), err)
			}
		},
	}

	// Global persistent flags, inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default: <root>/translator.yaml)")
	root.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Gemini API key (or GEMINI_API_KEY env var)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose output for file-level details")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error")

	root.AddCommand(
		newJobCmd(cmdNew),
		newJobCmd(cmdAll),
		newJobCmd(cmdSyncAll),
		newJobCmd(cmdGenerateManifest),
		newJobCmd(cmdFix),
		newJobCmd(cmdDebugFix),
		newResumeCmd(),
		newSetKeyCmd(),
		newLanguagesCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logWarning("%s", i18n.T("Interrupted, finishing running requests and saving progress..."))
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Application setup
// ---------------------------------------------------------------------------

// app holds what every job command needs after settings are loaded.
type app struct {
	root     string
	settings *config.Settings
	store    *jobs.Store
	closeLog func()
}

// loadApp reads translator.yaml, configures logging and checks that the
// template and language directories exist.
func loadApp() (*app, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(rootDir, config.FileName)
	}
	s, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := s.Log.Level
	if verbose {
		level = "debug"
	}
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	logFile := s.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(rootDir, logFile)
	}
	logger, closeLog, err := logging.New(level, logFile)
	if err != nil {
		return nil, err
	}
	log.Logger = logger

	if err := s.CheckPaths(rootDir); err != nil {
		closeLog()
		return nil, err
	}

	logger = logging.Component("main")
	logger.Debug().
		Str("root", rootDir).
		Str("config", path).
		Str("model", s.API.ModelName).
		Msg("settings loaded")

	return &app{
		root:     rootDir,
		settings: s,
		store:    jobs.NewStore(filepath.Join(rootDir, jobs.DefaultDir)),
		closeLog: closeLog,
	}, nil
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ricave-translator version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// languages
// ---------------------------------------------------------------------------

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: i18n.T("List supported languages"),
		Long: `List the languages configured in translator.yaml with their folder
names and native names.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = filepath.Join(rootDir, config.FileName)
			}
			s, err := config.Load(path)
			if err != nil {
				return err
			}
			printLanguages(cmd.OutOrStdout(), s.SupportedLanguages)
			return nil
		},
	}
}

func printLanguages(w io.Writer, langs config.Languages) {
	codeWidth := len("Code")
	nameWidth := len("Language")
	for _, l := range langs {
		codeWidth = max(codeWidth, len(l.Code))
		nameWidth = max(nameWidth, len([]rune(l.Name)))
	}

	fmt.Fprintln(w, accent(i18n.T("Supported languages:")))
	fmt.Fprintf(w, "  %-*s  %-*s  %s\n", codeWidth, "Code", nameWidth, "Language", "Native name")
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", codeWidth+nameWidth+16))
	for _, l := range langs {
		fmt.Fprintf(w, "  %-*s  %-*s  %s\n", codeWidth, l.Code, nameWidth+len(l.Name)-len([]rune(l.Name)), l.Name, langLabel(l.Code))
	}
}
