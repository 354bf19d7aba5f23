package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mailcadence/internal/app"
	"mailcadence/internal/cadence"
	"mailcadence/internal/config"
	"mailcadence/internal/job"
	"mailcadence/internal/mail"
	"mailcadence/internal/storage"
	logx "mailcadence/pkg/logx"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage stored jobs (offline; a running server picks changes up on restart)",
}

var (
	listOwner string

	addOwner    string
	addTo       string
	addSubject  string
	addBody     string
	addSchedule string
	addStart    string
	addAttach   []string
	addToken    string
	addRefresh  string

	nextCount int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored jobs with their next fire time",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a new job",
	Long: `Store a new job. --start is "YYYY-MM-DD HH:MM" or "YYYY-MM-DD" in
scheduler.timezone. Omit --schedule for a one-time job.`,
	Args: cobra.NoArgs,
	RunE: runJobsAdd,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a stored job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRm,
}

var jobsNextCmd = &cobra.Command{
	Use:   "next <id>",
	Short: "Preview upcoming fire times of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsNext,
}

func init() {
	jobsListCmd.Flags().StringVar(&listOwner, "owner", "", "only jobs of this owner")

	f := jobsAddCmd.Flags()
	f.StringVar(&addOwner, "owner", "", "job owner")
	f.StringVar(&addTo, "to", "", "recipients (comma, semicolon or space separated)")
	f.StringVar(&addSubject, "subject", "", "subject; {{...}} placeholders are rendered at send time")
	f.StringVar(&addBody, "body", "", "plain text body")
	f.StringVar(&addSchedule, "schedule", "", "one of "+strings.Join(cadence.Options(), ", ")+"; empty for one-time")
	f.StringVar(&addStart, "start", "", `first fire time, "YYYY-MM-DD HH:MM"`)
	f.StringSliceVar(&addAttach, "attach", nil, "attachment path relative to mail.attachments_dir (repeatable)")
	f.StringVar(&addToken, "token", "", "OAuth access token")
	f.StringVar(&addRefresh, "refresh-token", "", "OAuth refresh token")
	_ = jobsAddCmd.MarkFlagRequired("to")
	_ = jobsAddCmd.MarkFlagRequired("start")

	jobsNextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "number of fire times")

	jobsCmd.AddCommand(jobsListCmd, jobsAddCmd, jobsRmCmd, jobsNextCmd)
}

type offline struct {
	store     storage.Store
	loc       *time.Location
	attachDir string
}

// openOffline loads the config without validating mail credentials, which
// offline commands do not need.
func openOffline() (offline, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return offline{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return offline{}, err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("WARN"))
	if err != nil {
		return offline{}, err
	}
	return offline{store: st, loc: loc, attachDir: cfg.AttachmentDir()}, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	off, err := openOffline()
	if err != nil {
		return err
	}
	defer off.store.Close()
	st, loc := off.store, off.loc

	jobs, err := st.ListJobs(cmd.Context(), strings.TrimSpace(listOwner))
	if err != nil {
		return err
	}
	now := time.Now()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tSCHEDULE\tRECIPIENTS\tNEXT")
	for _, j := range jobs {
		next := "-"
		if up := cadence.Upcoming(j.Grid(), now, 1); len(up) > 0 {
			next = cadence.FormatUpcoming(up, loc)
		}
		sched := j.ScheduleOption
		if sched == "" {
			sched = "once"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Owner, sched, strings.Join(j.Recipients, ","), next)
	}
	return tw.Flush()
}

func runJobsAdd(cmd *cobra.Command, _ []string) error {
	off, err := openOffline()
	if err != nil {
		return err
	}
	defer off.store.Close()
	st, loc := off.store, off.loc

	date, clock, _ := strings.Cut(strings.TrimSpace(addStart), " ")
	startAt, err := job.ParseStartAt(date, clock, loc)
	if err != nil {
		return err
	}
	j := job.Job{
		ID:             uuid.NewString(),
		Owner:          strings.TrimSpace(addOwner),
		Recipients:     job.ParseRecipients(addTo),
		Subject:        addSubject,
		Body:           addBody,
		ScheduleOption: strings.TrimSpace(addSchedule),
		StartAt:        startAt,
		Attachments:    addAttach,
		Token:          addToken,
		RefreshToken:   addRefresh,
		CreatedAt:      time.Now(),
	}
	if err := j.Validate(); err != nil {
		return err
	}
	if err := mail.ValidateAttachments(off.attachDir, j.Attachments); err != nil {
		return err
	}
	if err := st.PutJob(cmd.Context(), j); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), j.ID)
	return nil
}

func runJobsRm(cmd *cobra.Command, args []string) error {
	off, err := openOffline()
	if err != nil {
		return err
	}
	defer off.store.Close()
	st := off.store
	if err := st.DeleteJob(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("job %s: %w", args[0], err)
		}
		return err
	}
	return nil
}

func runJobsNext(cmd *cobra.Command, args []string) error {
	off, err := openOffline()
	if err != nil {
		return err
	}
	defer off.store.Close()
	st, loc := off.store, off.loc
	j, err := st.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	up := cadence.Upcoming(j.Grid(), time.Now(), nextCount)
	if len(up) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no upcoming fire times")
		return nil
	}
	for _, t := range up {
		fmt.Fprintln(cmd.OutOrStdout(), t.In(loc).Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}
