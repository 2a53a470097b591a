package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long:  `Create, list and delete recording sessions.`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	Long: `Create a session. Start and end are RFC 3339 timestamps.

Example:
  accuracy-report session create --user u1 --activity running --metric HR \
    --firmware 2.1.0 --start 2024-05-01T10:00:00Z --end 2024-05-01T10:30:00Z`,
	Args: cobra.NoArgs,
	RunE: runSessionCreate,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session with its readings and analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

// Flags
var (
	sessionID       string
	sessionUser     string
	sessionActivity string
	sessionMetric   string
	sessionFirmware string
	sessionBand     string
	sessionStart    string
	sessionEnd      string

	listUser   string
	listStatus string
	listMetric string
	listLimit  int
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionDeleteCmd)

	f := sessionCreateCmd.Flags()
	f.StringVar(&sessionID, "id", "", "Session ID (generated when empty)")
	f.StringVar(&sessionUser, "user", "", "User ID")
	f.StringVar(&sessionActivity, "activity", "", "Activity type, e.g. running")
	f.StringVar(&sessionMetric, "metric", "HR", "Metric: HR or SPO2")
	f.StringVar(&sessionFirmware, "firmware", "", "Band firmware version")
	f.StringVar(&sessionBand, "band-position", "", "Where the band was worn")
	f.StringVar(&sessionStart, "start", "", "Session start (RFC 3339)")
	f.StringVar(&sessionEnd, "end", "", "Session end (RFC 3339)")
	_ = sessionCreateCmd.MarkFlagRequired("user")
	_ = sessionCreateCmd.MarkFlagRequired("start")
	_ = sessionCreateCmd.MarkFlagRequired("end")

	l := sessionListCmd.Flags()
	l.StringVar(&listUser, "user", "", "Filter by user ID")
	l.StringVar(&listStatus, "status", "", "Filter by status (created, ingested, analyzed)")
	l.StringVar(&listMetric, "metric", "", "Filter by metric")
	l.IntVarP(&listLimit, "last", "n", 20, "Number of sessions to show (0 for all)")
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	metric, err := vitals.ParseMetric(sessionMetric)
	if err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, sessionStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, sessionEnd)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	s := &vitals.Session{
		ID:              sessionID,
		UserID:          sessionUser,
		ActivityType:    sessionActivity,
		Metric:          metric,
		FirmwareVersion: sessionFirmware,
		BandPosition:    sessionBand,
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
	}
	if err := store.CreateSession(context.Background(), s); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.ID)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	f := db.SessionFilter{
		UserID: listUser,
		Status: vitals.SessionStatus(listStatus),
		Limit:  listLimit,
	}
	if listMetric != "" {
		m, err := vitals.ParseMetric(listMetric)
		if err != nil {
			return err
		}
		f.Metric = m
	}

	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background(), f)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tMETRIC\tACTIVITY\tFIRMWARE\tSTART\tSTATUS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.UserID, s.Metric, s.ActivityType, s.FirmwareVersion,
			s.StartTime.Format(time.RFC3339), s.Status)
	}
	return w.Flush()
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := newPipeline(store).DeleteSession(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
