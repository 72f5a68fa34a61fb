// Package commands provides the CLI commands for ei.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/eicompanion/ei/internal/config"
	"github.com/eicompanion/ei/internal/logging"
)

var (
	// Version information set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs  bool
	logLevel   string
	logFile    bool
	showConfig bool
	profileDir string
)

var rootCmd = &cobra.Command{
	Use:   "ei",
	Short: "ei - a personal AI companion engine",
	Long: `ei runs one or more AI companion personas that learn about you over
time, hold their own conversations, and periodically reach out on their own.

Run 'ei run' to start the engine as a long-lived process. The other
subcommands open the profile directly and are refused while an 'ei run'
process holds that profile's single-instance lock.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadDotEnv()

		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)

		if logFile {
			logging.Info().
				Str("version", Version).
				Str("logFile", logging.GetLogFilePath()).
				Msg("ei started with file logging")
		}

		if showConfig {
			dir, err := GetProfileDir()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error resolving profile directory: %v\n", err)
				os.Exit(1)
			}
			cfg, err := config.Load(dir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}
			jsonData, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling config: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(jsonData))
			os.Exit(0)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to /tmp/ei-YYYYMMDD-HHMMSS.log")
	rootCmd.PersistentFlags().BoolVar(&showConfig, "show-config", false, "Print merged configuration as JSON and exit")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile", "", "Profile directory (default: XDG data dir)/profile")

	rootCmd.SetVersionTemplate(fmt.Sprintf("ei %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(personaCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadDotEnv loads provider API keys from a .env file in the current
// directory or the profile directory, if either exists. Neither is
// required; config.Load's env-var layer covers a key set any other way.
func loadDotEnv() {
	_ = godotenv.Load(".env")
	if dir, err := GetProfileDir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
}

// GetProfileDir resolves the profile directory from --profile, then from a
// configured data_path (global config file or EI_DATA_PATH), falling back
// to the XDG default under config.GetPaths().
func GetProfileDir() (string, error) {
	if profileDir != "" {
		return profileDir, nil
	}
	if cfg, err := config.Load(""); err == nil && cfg.DataPath != "" {
		return cfg.DataPath, nil
	}
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return "", err
	}
	return paths.ProfilePath(), nil
}
