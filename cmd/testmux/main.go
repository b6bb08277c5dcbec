// Package main provides the testmux binary — a scenario test
// orchestrator that routes declarative scenarios to pluggable execution
// back-ends.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/testmux/testmux/pkg/schema"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are
// KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "testmux",
	Short: "Scenario test orchestrator",
	Long:  "testmux — routes declarative test scenarios to process, terminal, API, and browser back-ends with bounded concurrency, retries, and session records.",
}

var validateCmd = &cobra.Command{
	Use:   "validate <suite.yaml>",
	Short: "Validate a scenario suite file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suite, errs := schema.ValidateFile(args[0])
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "%s\n", e.Error())
		}
		if schema.HasErrors(errs) {
			return fmt.Errorf("%s is invalid", args[0])
		}
		fmt.Printf("✓ %s is valid (%d scenarios)\n", suite.Meta.Name, len(suite.Scenarios))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <suite.yaml>",
	Short: "List the scenarios in a suite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suite, err := schema.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s — %d scenario(s)\n", suite.Meta.Name, len(suite.Scenarios))
		for i := range suite.Scenarios {
			sc := &suite.Scenarios[i]
			state := ""
			if !sc.IsEnabled() {
				state = " (disabled)"
			}
			fmt.Printf("  %-24s [%s] %s%s\n", sc.ID, sc.Interface, sc.Name, state)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the suite JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("testmux %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
}
