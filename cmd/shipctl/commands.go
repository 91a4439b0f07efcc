package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/shipctl/internal/controlplane"
	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every service",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var triggerCmd = &cobra.Command{
	Use:     "trigger [workflow]",
	Aliases: []string{"deploy"},
	Short:   "Dispatch a workflow by name",
	Args:    cobra.ExactArgs(1),
	RunE:    runTrigger,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Cancel a workflow run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var cancelAllCmd = &cobra.Command{
	Use:   "cancel-all",
	Short: "Cancel every active workflow run",
	Args:  cobra.NoArgs,
	RunE:  runCancelAll,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh runs and health now",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded actions",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Show or replace the daemon's GitHub credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentials,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of shipctl",
	Run:   runVersion,
}

var (
	triggerRef     string
	triggerInputs  map[string]string
	refreshFull    bool
	historyLimit   int
	historyTarget  string
	credsOwner     string
	credsRepo      string
	credsToken     string
	credsTokenFile string
)

func init() {
	triggerCmd.Flags().StringVar(&triggerRef, "ref", "", "Git ref to run on (defaults to github.ref)")
	triggerCmd.Flags().StringToStringVar(&triggerInputs, "input", nil, "Workflow input as key=value (repeatable)")

	refreshCmd.Flags().BoolVar(&refreshFull, "full", false, "Re-resolve workflows before refreshing")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to show")
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "Only show entries for this workflow or target")

	credentialsCmd.Flags().StringVar(&credsOwner, "owner", "", "Repository owner")
	credentialsCmd.Flags().StringVar(&credsRepo, "repo", "", "Repository name")
	credentialsCmd.Flags().StringVar(&credsToken, "token", "", "GitHub token")
	credentialsCmd.Flags().StringVar(&credsTokenFile, "token-file", "", "Read the GitHub token from a file")
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/v1/status")
	if err != nil {
		return err
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(resp, &snap); err != nil {
		return err
	}

	if snap.Repository != "" {
		fmt.Printf("Repository: %s\n", snap.Repository)
	}
	if snap.Backend != nil {
		fmt.Printf("Backend:    %s\n", formatHealth(*snap.Backend))
	}
	if snap.Error != "" {
		fmt.Printf("Error:      %s\n", snap.Error)
	}
	if len(snap.Unmatched) > 0 {
		fmt.Printf("Not found:  %s\n", strings.Join(snap.Unmatched, ", "))
	}
	fmt.Println()

	if len(snap.Services) == 0 {
		fmt.Println("No services configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tHEALTH\tSTATE\tWORKFLOW\tACTIVE RUNS\tENDPOINT")
	for _, svc := range snap.Services {
		state := string(svc.WorkflowState)
		if svc.OverlayActive {
			state += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			svc.ServiceKey, formatHealth(svc.Health), state, svc.Workflow,
			activeRunIDs(svc.Runs), truncate(svc.Endpoint, 40))
	}
	w.Flush()

	s := snap.Summary
	fmt.Printf("\n%d services: %d up, %d down, %d checking | %d running, %d starting, %d failed\n",
		s.Total, s.Healthy, s.Down, s.Checking, s.Running, s.Starting, s.Failed)
	return nil
}

func runTrigger(cmd *cobra.Command, args []string) error {
	body := controlplane.DispatchRequest{
		Ref:    triggerRef,
		Inputs: triggerInputs,
	}

	if _, err := apiPost("/api/v1/workflows/"+url.PathEscape(args[0])+"/dispatch", body); err != nil {
		return err
	}

	fmt.Printf("Dispatched %s\n", args[0])
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	runID, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || runID <= 0 {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	if _, err := apiPost("/api/v1/runs/"+strconv.FormatInt(runID, 10)+"/cancel", nil); err != nil {
		return err
	}

	fmt.Printf("Cancellation requested for run %d\n", runID)
	return nil
}

func runCancelAll(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/api/v1/runs/cancel", nil)
	if err != nil {
		return err
	}

	var report controlplane.CancelAllResponse
	if err := json.Unmarshal(resp, &report); err != nil {
		return err
	}

	if report.NothingToCancel {
		fmt.Println("Nothing to cancel")
		return nil
	}

	fmt.Printf("Cancelled %d of %d runs\n", report.Succeeded, report.Attempted)
	if len(report.Failures) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKFLOW\tRUN\tERROR")
	for _, f := range report.Failures {
		fmt.Fprintf(w, "%s\t%d\t%s\n", f.Name, f.RunID, f.Error)
	}
	w.Flush()
	return fmt.Errorf("%d cancellations failed", len(report.Failures))
}

func runRefresh(cmd *cobra.Command, args []string) error {
	path := "/api/v1/refresh?wait=true"
	if refreshFull {
		path += "&full=true"
	}

	resp, err := apiPost(path, nil)
	if err != nil {
		return err
	}

	var result controlplane.RefreshResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if !result.Started {
		fmt.Println("A refresh is already in progress")
		return nil
	}
	fmt.Println("Refreshed")
	return runStatus(cmd, nil)
}

func runHistory(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(historyLimit))
	if historyTarget != "" {
		q.Set("target", historyTarget)
	}

	resp, err := apiGet("/api/v1/history?" + q.Encode())
	if err != nil {
		return err
	}

	var entries []models.JournalEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No actions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tTARGET\tOUTCOME\tINPUTS\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Action, e.Target, e.Outcome,
			truncateID(e.InputsHash), truncate(e.Details, 60))
	}
	w.Flush()
	return nil
}

func runCredentials(cmd *cobra.Command, args []string) error {
	if credsOwner == "" && credsRepo == "" && credsToken == "" && credsTokenFile == "" {
		resp, err := apiGet("/api/v1/credentials")
		if err != nil {
			return err
		}
		var creds engine.Credentials
		if err := json.Unmarshal(resp, &creds); err != nil {
			return err
		}
		fmt.Printf("Owner: %s\n", creds.Owner)
		fmt.Printf("Repo:  %s\n", creds.Repo)
		fmt.Printf("Token: %s\n", creds.Token)
		return nil
	}

	token := credsToken
	if credsTokenFile != "" {
		data, err := os.ReadFile(credsTokenFile)
		if err != nil {
			return fmt.Errorf("reading token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if credsOwner == "" || credsRepo == "" || token == "" {
		return errors.New("--owner, --repo and --token (or --token-file) are required together")
	}

	resp, err := apiPut("/api/v1/credentials", engine.Credentials{Owner: credsOwner, Repo: credsRepo, Token: token})
	if err != nil {
		return err
	}

	var result controlplane.CredentialsResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if !result.Changed {
		fmt.Println("Credentials unchanged")
		return nil
	}
	fmt.Printf("Credentials updated for %s/%s; full refresh started\n", credsOwner, credsRepo)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("shipctl version %s\n", controlplane.Version)
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// --- Helpers ---

func formatHealth(h models.HealthSample) string {
	if h.Status == models.HealthOK {
		return fmt.Sprintf("ok (%dms)", h.LatencyMS)
	}
	return string(h.Status)
}

func activeRunIDs(runs []models.RunView) string {
	var ids []string
	for _, r := range runs {
		if r.Status.Active() {
			ids = append(ids, strconv.FormatInt(r.ID, 10))
		}
	}
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
