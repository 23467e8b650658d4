package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/certgen/certgen/internal/app"
	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/pipeline"
)

var (
	name      string
	recipient string
	limit     int
)

var rootCmd = &cobra.Command{
	Use:           "certctl",
	Short:         "Operate the certificate pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate and send one certificate",
	RunE:  runRun,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the placeholder over a name left in the template",
	RunE:  runReset,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check that the template shows its placeholder",
	RunE:  runAudit,
}

var dirtyCmd = &cobra.Command{
	Use:   "dirty",
	Short: "List jobs that left the template dirty",
	RunE:  runDirty,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the template history, newest first",
	RunE:  runEvents,
}

var jobCmd = &cobra.Command{
	Use:   "job [id]",
	Short: "Show a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

func init() {
	runCmd.Flags().StringVar(&name, "name", "", "recipient name")
	runCmd.Flags().StringVar(&recipient, "email", "", "recipient email address")
	runCmd.MarkFlagRequired("name")
	runCmd.MarkFlagRequired("email")

	resetCmd.Flags().StringVar(&name, "name", "", "name currently shown in the template")
	resetCmd.MarkFlagRequired("name")

	dirtyCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to list")
	eventsCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(dirtyCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(jobCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if kind := certerr.Kind(err); kind != certerr.KindInternal {
			fmt.Fprintf(os.Stderr, "Kind: %s\n", kind)
		}
		os.Exit(1)
	}
}

func loadApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, "text")
	return app.New(context.WithoutCancel(cmd.Context()), cfg, log)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if a.Config.Timeouts.Job > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Timeouts.Job)
		defer cancel()
	}

	res, err := a.Orchestrator.Run(ctx, pipeline.Request{Name: name, Email: recipient})
	if err != nil {
		return err
	}
	fmt.Printf("Job %s sent (message %s) in %s\n", res.JobID, res.Receipt.MessageID, res.Duration.Round(time.Millisecond))
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rev, err := a.Orchestrator.Reset(cmd.Context(), name)
	if err != nil {
		return err
	}
	if rev.OccurrencesChanged == 0 {
		fmt.Printf("%q not found in template %s, nothing to reset\n", name, a.Orchestrator.PresentationID())
		return nil
	}
	fmt.Printf("Restored %d occurrence(s) in template %s (revision %s)\n",
		rev.OccurrencesChanged, a.Orchestrator.PresentationID(), rev.ID)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Orchestrator.Audit(cmd.Context())
	if st != nil {
		fmt.Printf("Template:    %s\n", a.Orchestrator.PresentationID())
		fmt.Printf("Revision:    %s\n", st.RevisionID)
		fmt.Printf("Slides:      %d\n", st.SlideCount)
		fmt.Printf("Placeholder: %v\n", st.PlaceholderPresent)
	}
	return err
}

func runDirty(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Jobs == nil {
		return errors.New("job store is disabled (database.enabled=false)")
	}

	jobs, err := a.Jobs.ListDirty(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No dirty jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tTEMPLATE\tNAME\tPHASE\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.PresentationID, j.RecipientName, j.Phase, j.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runJob(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Jobs == nil {
		return errors.New("job store is disabled (database.enabled=false)")
	}

	job, err := a.Jobs.GetByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Events == nil {
		return errors.New("template history is disabled (database.enabled=false)")
	}

	events, err := a.Events.List(cmd.Context(), a.Orchestrator.PresentationID(), limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tJOB\tNAME")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Action, deref(ev.JobID), deref(ev.Name))
	}
	return w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
