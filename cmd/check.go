package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/frectonz/penny/health"
	"github.com/frectonz/penny/pennyclock"
	"github.com/frectonz/penny/pennyconfig"
	"github.com/frectonz/penny/runner"
	"github.com/frectonz/penny/xlog"
)

var flagCheckApps string

var checkCmd = &cobra.Command{
	Use:   "check <config>",
	Short: "Start, health-check, and stop each configured app as a dry run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args[0])
	},
}

func init() {
	checkCmd.Flags().StringVar(&flagCheckApps, "apps", "", "comma-separated list of app hostnames to check (default: all)")
}

// appCheckResult mirrors the original check command's per-app report: each
// stage (start, health, stop) is independently success/failure.
type appCheckResult struct {
	hostname  string
	startOK   bool
	startErr  error
	healthOK  bool
	healthErr error
	stopOK    bool
	stopErr   error
}

func (r appCheckResult) ok() bool { return r.startOK && r.healthOK && r.stopOK }

func runCheck(cmd *cobra.Command, configPath string) error {
	file, err := pennyconfig.Load(configPath)
	if err != nil {
		return err
	}

	hosts := hostsToCheck(file, flagCheckApps)
	if len(hosts) == 0 {
		return usage("no apps matched --apps filter")
	}

	var results []appCheckResult
	for _, host := range hosts {
		app, ok := file.Apps[host]
		if !ok {
			return usage("unknown app %q", host)
		}
		result := checkApp(host, app)
		printCheckResult(cmd, result)
		results = append(results, result)
	}

	printCheckSummary(cmd, results)

	var failed []string
	for _, r := range results {
		if !r.ok() {
			failed = append(failed, r.hostname)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d app(s) failed check: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// checkApp starts app's command, waits for it to become healthy, then stops
// it. If the command fails to start, the health and stop stages are skipped.
// Once it has started, the stop stage is attempted whether or not the health
// check succeeded, so a stuck health check doesn't prevent an attempt to
// clean up the process.
func checkApp(host string, app pennyconfig.App) appCheckResult {
	result := appCheckResult{hostname: host}
	log := xlog.NewDomain("check." + host)

	command := toRunnerCommand(app.Command)
	handle, err := command.Start(context.Background(), log, func(runner.LogLine) {})
	if err != nil {
		result.startErr = err
		return result
	}
	result.startOK = true

	probeCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout.Duration())
	backoff := health.Backoff{
		Initial: time.Duration(app.Backoff.InitialMs) * time.Millisecond,
		Max:     time.Duration(app.Backoff.MaxSecs) * time.Second,
	}
	probeResult := health.Probe(probeCtx, pennyclock.Real, app.Address, app.HealthCheckPath, app.StartTimeout.Duration(), backoff)
	cancel()

	switch probeResult {
	case health.Ok:
		result.healthOK = true
	case health.Timeout:
		result.healthErr = fmt.Errorf("health check timed out after %s", app.StartTimeout.Duration())
	case health.Cancelled:
		result.healthErr = fmt.Errorf("health check cancelled")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout.Duration())
	failure := handle.Stop(stopCtx, app.StopTimeout.Duration())
	stopCancel()
	if failure == "" {
		result.stopOK = true
	} else {
		result.stopErr = fmt.Errorf("%s", failure)
	}

	return result
}

func printCheckResult(cmd *cobra.Command, r appCheckResult) {
	cmd.Printf("========================================\n")
	cmd.Printf("Checking: %s\n", r.hostname)
	cmd.Printf("========================================\n")

	printStage(cmd, "Start command executed", r.startOK, r.startErr)
	printStage(cmd, "Health check passed", r.healthOK, r.healthErr)
	printStage(cmd, "Stop completed", r.stopOK, r.stopErr)
	cmd.Println()
}

func printStage(cmd *cobra.Command, label string, ok bool, err error) {
	if ok {
		cmd.Printf("  [ok] %s\n", label)
		return
	}
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	cmd.Printf("  [FAIL] %s: %s\n", label, reason)
}

func printCheckSummary(cmd *cobra.Command, results []appCheckResult) {
	total := len(results)
	passed := 0
	for _, r := range results {
		if r.ok() {
			passed++
		}
	}
	cmd.Printf("========================================\n")
	cmd.Printf("Summary\n")
	cmd.Printf("========================================\n")
	cmd.Printf("Total: %d | Passed: %d | Failed: %d\n", total, passed, total-passed)
}

func hostsToCheck(file *pennyconfig.File, filter string) []string {
	if filter == "" {
		hosts := make([]string, 0, len(file.Apps))
		for h := range file.Apps {
			hosts = append(hosts, h)
		}
		return hosts
	}
	return strings.Split(filter, ",")
}
