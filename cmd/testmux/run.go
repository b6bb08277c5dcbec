package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/aggregate"
	"github.com/testmux/testmux/pkg/backend"
	"github.com/testmux/testmux/pkg/config"
	"github.com/testmux/testmux/pkg/event"
	"github.com/testmux/testmux/pkg/orchestrator"
	"github.com/testmux/testmux/pkg/schema"
	"github.com/testmux/testmux/pkg/session"
	"github.com/testmux/testmux/pkg/tracker"
	"github.com/testmux/testmux/pkg/triage"
)

// Color palette for run output.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("220")
	colorGray   = lipgloss.Color("245")
	colorCyan   = lipgloss.Color("51")
)

var (
	stylePass   = lipgloss.NewStyle().Foreground(colorGreen)
	styleFail   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	styleSkip   = lipgloss.NewStyle().Foreground(colorGray)
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleWarn   = lipgloss.NewStyle().Foreground(colorYellow)
)

var runFlags struct {
	configPath  string
	maxParallel int
	retries     int
	failFast    bool
	tag         string
	vars        []string
	jsonOut     bool
}

var runCmd = &cobra.Command{
	Use:   "run <suite.yaml>...",
	Short: "Run one or more scenario suites as a single session",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSuites,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.configPath, "config", "c", "testmux.yaml", "orchestrator config file")
	runCmd.Flags().IntVar(&runFlags.maxParallel, "max-parallel", 0, "override max parallel scenarios")
	runCmd.Flags().IntVar(&runFlags.retries, "retries", -1, "override default retry count")
	runCmd.Flags().BoolVar(&runFlags.failFast, "fail-fast", false, "cancel remaining work on first failure")
	runCmd.Flags().StringVar(&runFlags.tag, "tag", "", "run only scenarios carrying this tag")
	runCmd.Flags().StringArrayVar(&runFlags.vars, "var", nil, "guard variable as key=value (repeatable)")
	runCmd.Flags().BoolVar(&runFlags.jsonOut, "json", false, "emit the completed session as JSON")

	rootCmd.SilenceUsage = true
}

func runSuites(cmd *cobra.Command, args []string) error {
	var suites []*schema.Suite
	for _, path := range args {
		suite, verrs := schema.ValidateFile(path)
		for _, e := range verrs {
			fmt.Fprintf(os.Stderr, "%s\n", e.Error())
		}
		if schema.HasErrors(verrs) {
			return fmt.Errorf("%s is invalid", path)
		}
		suites = append(suites, suite)
	}

	cfg, err := config.LoadFile(runFlags.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-parallel") {
		cfg.MaxParallel = runFlags.maxParallel
	}
	if cmd.Flags().Changed("retries") {
		cfg.RetryCount = runFlags.retries
	}
	if cmd.Flags().Changed("fail-fast") {
		cfg.FailFast = runFlags.failFast
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var scenarios []*schema.Scenario
	var names []string
	vars := make(map[string]string)
	for _, suite := range suites {
		scenarios = append(scenarios, selectScenarios(suite, runFlags.tag)...)
		names = append(names, suite.Meta.Name)
		for k, v := range suite.Meta.Vars {
			vars[k] = v
		}
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios selected")
	}

	// --var flags override suite meta.vars.
	overrides, err := parseVars(runFlags.vars)
	if err != nil {
		return err
	}
	for k, v := range overrides {
		vars[k] = v
	}

	registry := backend.DefaultRegistry(cfg.Backends.Shell, cfg.Backends.BaseURL, cfg.Backends.WorkDir, cfg.Backends.Headless)

	analyzer := triage.NewAnalyzer()
	if cfg.Triage.LLM == "azure" {
		llm, err := triage.NewAzureOpenAIClientFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: triage LLM disabled: %v\n", err)
		} else {
			analyzer = triage.NewAnalyzerWithLLM(llm)
		}
	}

	var reporter aggregate.IssueReporter
	if cfg.Reporting.Enabled {
		reporter = tracker.NewReporter(cfg.Reporting.Endpoint, cfg.Reporting.Project, cfg.Reporting.Labels)
	}

	orch := orchestrator.New(cfg, registry, analyzer, reporter)
	if !runFlags.jsonOut {
		unsubscribe := orch.Bus().Subscribe(printProgress)
		defer unsubscribe()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s %s — %d scenario(s)\n", styleHeader.Render("Running"), strings.Join(names, ", "), len(scenarios))

	sess, report, err := orch.Run(ctx, scenarios, vars)
	if err != nil {
		return err
	}

	if runFlags.jsonOut {
		data, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printSummary(sess, report)
	}

	if sess.Status == agent.StatusFailed || sess.Status == agent.StatusError {
		return fmt.Errorf("session %s ended %s (%d failed of %d)", sess.ID, sess.Status, sess.Summary.Failed, sess.Summary.Total)
	}
	return nil
}

// selectScenarios returns pointers into the suite, filtered by tag when
// one is given.
func selectScenarios(suite *schema.Suite, tag string) []*schema.Scenario {
	var out []*schema.Scenario
	for i := range suite.Scenarios {
		sc := &suite.Scenarios[i]
		if tag != "" && !sc.HasTag(tag) {
			continue
		}
		out = append(out, sc)
	}
	return out
}

func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", p)
		}
		vars[parts[0]] = parts[1]
	}
	return vars, nil
}

func printProgress(e event.Event) {
	switch e.Type {
	case event.PhaseStart:
		fmt.Printf("%s %s\n", styleHeader.Render("▸"), e.Phase)
	case event.ScenarioEnd:
		fmt.Printf("  %s %s\n", statusGlyph(agent.Status(e.Status)), e.ScenarioID)
	case event.Error:
		fmt.Fprintf(os.Stderr, "  %s %s: %s\n", styleFail.Render("✗"), e.ScenarioID, e.Message)
	}
}

func statusGlyph(s agent.Status) string {
	switch s {
	case agent.StatusPassed:
		return stylePass.Render("✓")
	case agent.StatusFailed, agent.StatusError:
		return styleFail.Render("✗")
	case agent.StatusSkipped:
		return styleSkip.Render("⏭")
	default:
		return " "
	}
}

func printSummary(sess *session.Session, report *aggregate.PriorityReport) {
	fmt.Println()
	fmt.Printf("%s session %s: %s\n", styleHeader.Render("Summary"), sess.ID, renderStatus(sess.Status))
	fmt.Printf("  %s %d passed  %s %d failed  %s %d skipped  (%d total)\n",
		stylePass.Render("✓"), sess.Summary.Passed,
		styleFail.Render("✗"), sess.Summary.Failed,
		styleSkip.Render("⏭"), sess.Summary.Skipped,
		sess.Summary.Total)

	if report != nil && len(report.Assignments) > 0 {
		fmt.Printf("\n%s\n", styleHeader.Render("Triage"))
		for _, a := range report.Assignments {
			fmt.Printf("  %s %-24s %s\n", renderPriority(a.Priority), a.ScenarioID, a.Reason)
		}
		if report.Summary != "" {
			fmt.Printf("  %s\n", styleSkip.Render(report.Summary))
		}
	}
}

func renderStatus(s agent.Status) string {
	switch s {
	case agent.StatusPassed:
		return stylePass.Render(string(s))
	case agent.StatusFailed, agent.StatusError:
		return styleFail.Render(string(s))
	default:
		return styleSkip.Render(string(s))
	}
}

func renderPriority(p string) string {
	switch p {
	case "critical", "high":
		return styleFail.Render(fmt.Sprintf("[%s]", p))
	case "medium":
		return styleWarn.Render(fmt.Sprintf("[%s]", p))
	default:
		return styleSkip.Render(fmt.Sprintf("[%s]", p))
	}
}
