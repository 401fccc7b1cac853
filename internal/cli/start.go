package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocalis/vocalis/internal/config"
	"github.com/vocalis/vocalis/internal/daemon"
	"github.com/vocalis/vocalis/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Vocalis daemon",
	Long: `Start the Vocalis daemon in the foreground. The daemon serves the client
websocket endpoint and orchestrates realtime provider sessions until it
receives SIGINT or SIGTERM. SIGHUP reloads the agent definitions.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	return d.Start()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	return logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}
