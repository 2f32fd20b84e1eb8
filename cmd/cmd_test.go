package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pixelwatch/internal/engine"
)

// setupEnv points config at a fresh temp directory with no integrations.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("DB_PATH", filepath.Join(dir, "pixelwatch.db"))
	t.Setenv("REPORT_OUTPUT_DIR", filepath.Join(dir, "reports"))
	for _, key := range []string{"JIRA_URL", "JIRA_EMAIL", "JIRA_TOKEN", "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN", "SLACK_ALERT_CHANNEL_ID", "ANTHROPIC_API_KEY", "RULES_PATH", "RULE_WEIGHT", "ML_WEIGHT"} {
		t.Setenv(key, "")
	}
	return dir
}

// run executes the root command with fresh flag values.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// mustRun runs the command and fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func expectOutput(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func expectError(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("expected error containing %q, got %v", want, err)
	}
}

func TestClassifyCommand(t *testing.T) {
	setupEnv(t)
	out := mustRun(t, "classify", "Ministry of Supply Pixel Validation Request")
	expectOutput(t, out,
		"Verdict:        MATCH",
		"high:pixel validation",
		"(untrained)",
		"Alert level:    immediate",
	)
}

func TestClassifyUniversalTagsPlural(t *testing.T) {
	setupEnv(t)
	out := mustRun(t, "classify", "Verification on universal tags")
	expectOutput(t, out, "Verdict:        MATCH", "high:universal tag")
}

func TestClassifyExcluded(t *testing.T) {
	setupEnv(t)
	out := mustRun(t, "classify", "Linear Ads Delivery", "-d", "noticed it had pixel in it")
	expectOutput(t, out, "Verdict:        excluded", "excluded:linear ads")
}

func TestClassifyNeedsText(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, "classify"); err == nil {
		t.Fatalf("expected error without ticket text")
	}
	_, err := run(t, "classify", "pixel", "--record")
	expectError(t, err, "--record needs --id")
}

func TestFeedbackRequiresDetection(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "feedback", "PS-404", "tp")
	if !errors.Is(err, engine.ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}

	if _, err := run(t, "feedback", "PS-404", "maybe"); err == nil {
		t.Fatalf("expected error for an unknown label")
	}
}

func TestRecordFeedbackAndRetrain(t *testing.T) {
	setupEnv(t)
	mustRun(t, "classify", "--id", "PS-1", "--record", "Conversion pixel not firing")

	out := mustRun(t, "feedback", "PS-1", "tp", "--by", "analyst")
	expectOutput(t, out, "Recorded true_positive for PS-1")

	out = mustRun(t, "retrain")
	expectOutput(t, out, "Retrain skipped:")

	out = mustRun(t, "retrain", "--if-due")
	expectOutput(t, out, "Retrain not due yet.")
}

func TestStatsCommand(t *testing.T) {
	setupEnv(t)
	out := mustRun(t, "stats")
	expectOutput(t, out,
		"untrained (needs 20 samples of both kinds)",
		"weights rule=1.00 ml=0.00",
		"TP=0 FP=0 FN=0 TN=0",
	)

	if _, err := run(t, "stats", "--days", "0"); err == nil {
		t.Fatalf("expected error for --days 0")
	}
}

func TestStatsCountsTicketsOnce(t *testing.T) {
	setupEnv(t)
	for i := 0; i < 3; i++ {
		mustRun(t, "classify", "--id", "PS-1", "--record", "Conversion pixel not firing")
	}
	out := mustRun(t, "stats")
	expectOutput(t, out, "tickets 1 (3 evaluations), matched 1, excluded 0")
}

func TestDashboardCommand(t *testing.T) {
	dir := setupEnv(t)
	mustRun(t, "classify", "--id", "PS-1", "--record", "Pixel validation request")

	out := mustRun(t, "dashboard", "--days", "1")
	expectOutput(t, out, "Dashboard with 1 tickets written")

	entries, err := os.ReadDir(filepath.Join(dir, "reports"))
	if err != nil {
		t.Fatalf("read reports dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected markdown, html and eml, got %d files", len(entries))
	}
}

func TestSuggestRequiresAnthropic(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "suggest")
	expectError(t, err, "anthropic_api_key")
}

func TestCheckRequiresJira(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "check", "--no-slack")
	expectError(t, err, "Jira is not configured")
}
