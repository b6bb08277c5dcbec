package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

// BrowserAgent drives a Chrome instance via chromedp. It is the stateful
// GUI back-end: one browser lives across the whole run, and the router
// guarantees Execute calls never overlap.
type BrowserAgent struct {
	Headless      bool
	ScreenshotDir string // defaults to outputs/screenshots

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewBrowserAgent creates a browser agent.
func NewBrowserAgent(headless bool, screenshotDir string) *BrowserAgent {
	if screenshotDir == "" {
		screenshotDir = filepath.Join("outputs", "screenshots")
	}
	return &BrowserAgent{Headless: headless, ScreenshotDir: screenshotDir}
}

// Initialize starts the browser. Called exactly once per run, before the
// sequential GUI loop.
func (b *BrowserAgent) Initialize(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Starting with an empty action forces the browser to launch now, so
	// a missing Chrome binary fails initialization instead of the first
	// scenario.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch browser: %w", err)
	}

	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.allocCancel = allocCancel
	return nil
}

// Execute runs the scenario's steps against the shared browser, stopping
// at the first failing step.
func (b *BrowserAgent) Execute(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
	if b.browserCtx == nil {
		return nil, fmt.Errorf("browser agent not initialized")
	}

	for i, step := range sc.Steps {
		if err := b.runStep(sc.ID, i, step); err != nil {
			return &agent.TestResult{
				ScenarioID: sc.ID,
				Status:     agent.StatusFailed,
				Error:      fmt.Sprintf("step %d (%s): %v", i, step.Action, err),
			}, nil
		}
	}
	return &agent.TestResult{ScenarioID: sc.ID, Status: agent.StatusPassed}, nil
}

// Cleanup shuts the browser down. Errors are swallowed; cleanup never
// fails the caller.
func (b *BrowserAgent) Cleanup(ctx context.Context) {
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
}

func (b *BrowserAgent) runStep(scenarioID string, index int, step schema.Step) error {
	timeout := step.Timeout()
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(b.browserCtx, timeout)
	defer cancel()

	switch strings.ToLower(step.Action) {
	case "navigate":
		return chromedp.Run(stepCtx, chromedp.Navigate(step.Target))
	case "click":
		return chromedp.Run(stepCtx, chromedp.Click(step.Target, chromedp.ByQuery))
	case "type":
		return chromedp.Run(stepCtx, chromedp.SendKeys(step.Target, step.Value, chromedp.ByQuery))
	case "hover":
		return chromedp.Run(stepCtx, chromedp.ScrollIntoView(step.Target, chromedp.ByQuery))
	case "select":
		return chromedp.Run(stepCtx, chromedp.SetValue(step.Target, step.Value, chromedp.ByQuery))
	case "wait_visible":
		return chromedp.Run(stepCtx, chromedp.WaitVisible(step.Target, chromedp.ByQuery))
	case "expect_text":
		var text string
		if err := chromedp.Run(stepCtx, chromedp.Text(step.Target, &text, chromedp.ByQuery)); err != nil {
			return err
		}
		if !strings.Contains(text, step.Value) {
			return fmt.Errorf("element %q text %q does not contain %q", step.Target, text, step.Value)
		}
		return nil
	case "screenshot":
		var buf []byte
		if err := chromedp.Run(stepCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return err
		}
		return b.saveScreenshot(scenarioID, index, buf)
	default:
		return fmt.Errorf("unsupported gui action %q", step.Action)
	}
}

func (b *BrowserAgent) saveScreenshot(scenarioID string, index int, buf []byte) error {
	if err := os.MkdirAll(b.ScreenshotDir, 0755); err != nil {
		return fmt.Errorf("create screenshot directory: %w", err)
	}
	path := filepath.Join(b.ScreenshotDir, fmt.Sprintf("%s_step%04d.png", scenarioID, index))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}
