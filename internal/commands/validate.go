package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banksia-harness/banksia/internal/config"
	"github.com/banksia-harness/banksia/internal/procedure"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate [dir...]",
		Short: "Validate test procedure definitions",
		Long: `Validate parses every test procedure YAML file and reports definitions the
engines could not execute: unknown event, action or check types, malformed
variable expressions or missing required event parameters.

Directories may be given as arguments; otherwise the procedure directories
from the configuration file are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(configPath, args)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	return cmd
}

func runValidate(configPath string, dirs []string) error {
	if len(dirs) == 0 {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		dirs = cfg.ProcedureDirs
	}

	failures := 0
	total := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}
			total++
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			procName := strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
			if _, err := procedure.Parse(data, procName); err != nil {
				failures++
				color.Red("  ✗ %s", path)
				fmt.Printf("    %v\n", err)
				continue
			}
			color.Green("  ✓ %s", path)
		}
	}

	fmt.Println()
	if failures > 0 {
		return fmt.Errorf("%d of %d test procedures failed validation", failures, total)
	}
	color.Green("%d test procedures valid", total)
	return nil
}

// NewProceduresCmd creates the procedures command.
func NewProceduresCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "procedures",
		Short: "List the loaded test procedures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcedures(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	return cmd
}

func runProcedures(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := procedure.LoadDirs(cfg.ProcedureDirs, slog.Default())
	if err != nil {
		return fmt.Errorf("loading test procedures: %w", err)
	}

	if registry.Len() == 0 {
		fmt.Println("No test procedures found.")
		return nil
	}

	bold := color.New(color.Bold)
	_, _ = bold.Println("Test Procedures:")
	fmt.Println()
	for _, name := range registry.Names() {
		def, _ := registry.Get(name)
		fmt.Printf("  %-12s %s\n", name, def.Description)
	}
	fmt.Println()
	return nil
}
