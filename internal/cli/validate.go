package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocalis/vocalis/pkg/definition"
)

var validateDir string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Lint an agent definition directory",
	Long: `Load and validate an agent definition directory without starting the
daemon. Reports the first validation error: unknown transition targets,
missing initial or terminal states, undeclared tools, opener conflicts.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateDir, "definitions", "", "definition directory (default from config)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir := validateDir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Definitions.Dir
	}

	agents, err := definition.Load(dir)
	if err != nil {
		return fmt.Errorf("definition set rejected: %w", err)
	}

	fmt.Printf("Definition set OK: %d agents\n", len(agents.Agents()))
	for _, a := range agents.Agents() {
		marker := ""
		if a.Opener {
			marker = " (opener)"
		}
		fmt.Printf("  %s / %s%s: %d states, %d tools\n",
			a.Community, a.Name, marker, len(a.Flow.States), len(a.ResolvedTools()))
	}
	return nil
}
