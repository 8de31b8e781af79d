package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/boardsticker/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Fprintln(out, "boardsticker setup")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		runWizard(scanner, out, cfg)

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

func runWizard(scanner *bufio.Scanner, out io.Writer, cfg *config.Config) {
	cfg.Telegram.Token = prompt(scanner, out, "Telegram bot token", cfg.Telegram.Token)
	cfg.Gemini.APIKey = prompt(scanner, out, "Gemini API key", cfg.Gemini.APIKey)
	cfg.Gemini.Model = prompt(scanner, out, "Gemini model", cfg.Gemini.Model)

	cfg.Stickers.Naming = prompt(scanner, out, "Set naming (timestamp|probe)", cfg.Stickers.Naming)
	cfg.Stickers.OnPartialFailure = prompt(scanner, out, "On partial failure (keep|delete)", cfg.Stickers.OnPartialFailure)
	cfg.MaxConcurrent = promptInt(scanner, out, "Max concurrent runs", cfg.MaxConcurrent)

	httpOn := prompt(scanner, out, "Enable HTTP API (y/n)", yesNo(cfg.HTTP.Enabled))
	cfg.HTTP.Enabled = strings.HasPrefix(strings.ToLower(httpOn), "y")
	if cfg.HTTP.Enabled {
		cfg.HTTP.Listen = prompt(scanner, out, "HTTP listen address", cfg.HTTP.Listen)
	}
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func promptInt(scanner *bufio.Scanner, out io.Writer, label string, defaultVal int) int {
	s := prompt(scanner, out, label, strconv.Itoa(defaultVal))
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	fmt.Fprintf(out, "  not a number, keeping %d\n", defaultVal)
	return defaultVal
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
