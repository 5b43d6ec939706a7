package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/wakeup/display"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
	"github.com/teranos/wakeup/wakeup"
)

// CallCmd groups wake-up call management
var CallCmd = &cobra.Command{
	Use:   "call",
	Short: "Manage wake-up calls",
	Long: `List, create and cancel wake-up calls directly in the database.

Calls created here are picked up by a running "wakeup serve" on its next
scan, within one tick of the scheduled time.

Examples:
  wakeup call ls --owner u-1
  wakeup call ls --status scheduled --limit 20
  wakeup call create --owner u-1 --to +15551234567 --at 2026-03-02T06:30:00-05:00
  wakeup call cancel 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
}

var callLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List wake-up calls",
	RunE:  runCallLs,
}

var callCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedule a wake-up call",
	RunE:  runCallCreate,
}

var callCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a scheduled or active wake-up call",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallCancel,
}

var (
	callDBPath    string
	callOwner     string
	callStatus    string
	callLimit     int
	callAt        string
	callTo        string
	callChannel   string
	callRegion    string
	callSimulated bool
)

func init() {
	CallCmd.PersistentFlags().StringVar(&callDBPath, "db-path", "", "Database path (overrides config)")

	callLsCmd.Flags().StringVar(&callOwner, "owner", "", "Only this owner's calls")
	callLsCmd.Flags().StringVar(&callStatus, "status", "", "Only calls with this status")
	callLsCmd.Flags().IntVar(&callLimit, "limit", 50, "Maximum number of calls")

	callCreateCmd.Flags().StringVar(&callOwner, "owner", "", "Owner id")
	callCreateCmd.Flags().StringVar(&callAt, "at", "", "Scheduled time, RFC 3339")
	callCreateCmd.Flags().StringVar(&callTo, "to", "", "Destination phone number")
	callCreateCmd.Flags().StringVar(&callChannel, "channel", "", "call or sms, default the owner's preference")
	callCreateCmd.Flags().StringVar(&callRegion, "region", "", "Postal code for the weather report")
	callCreateCmd.Flags().BoolVar(&callSimulated, "simulate", false, "Record the attempt without contacting the provider")
	_ = callCreateCmd.MarkFlagRequired("owner")
	_ = callCreateCmd.MarkFlagRequired("at")
	_ = callCreateCmd.MarkFlagRequired("to")

	CallCmd.AddCommand(callLsCmd, callCreateCmd, callCancelCmd)
}

func newCallService() (*wakeup.Service, *wakeup.Store, func(), error) {
	conn, err := openDatabase(callDBPath)
	if err != nil {
		return nil, nil, nil, err
	}
	calls := wakeup.NewStore(conn)
	svc := wakeup.NewService(calls, wakeup.NewProfileStore(conn), logger.Logger)
	return svc, calls, func() { conn.Close() }, nil
}

func runCallLs(cmd *cobra.Command, args []string) error {
	_, calls, done, err := newCallService()
	if err != nil {
		return err
	}
	defer done()

	var statuses []wakeup.Status
	if callStatus != "" {
		s := wakeup.Status(callStatus)
		if !s.IsValid() {
			return errors.NewValidationError("unknown status %q", callStatus)
		}
		statuses = append(statuses, s)
	}

	ctx := cmd.Context()
	var list []*wakeup.Call
	if callOwner != "" {
		list, err = calls.ListByOwner(ctx, callOwner, statuses...)
		if len(list) > callLimit {
			list = list[:callLimit]
		}
	} else {
		list, err = calls.List(ctx, callLimit, statuses...)
	}
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		if list == nil {
			list = []*wakeup.Call{}
		}
		return display.OutputJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		pterm.Info.Println("No wake-up calls found")
		return nil
	}
	data := pterm.TableData{{"ID", "Owner", "Scheduled", "Channel", "Status", "Destination"}}
	for _, c := range list {
		data = append(data, []string{
			c.ID,
			c.OwnerID,
			c.ScheduledTime.Local().Format("2006-01-02 15:04 MST"),
			string(c.Channel),
			colorStatus(c.Status),
			c.Destination,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func colorStatus(s wakeup.Status) string {
	switch s {
	case wakeup.StatusCompleted:
		return pterm.Green(s)
	case wakeup.StatusFailed:
		return pterm.Red(s)
	case wakeup.StatusActive:
		return pterm.Yellow(s)
	case wakeup.StatusCancelled:
		return pterm.Gray(s)
	default:
		return string(s)
	}
}

func runCallCreate(cmd *cobra.Command, args []string) error {
	at, err := time.Parse(time.RFC3339, callAt)
	if err != nil {
		return errors.WithHint(errors.NewValidationError("invalid --at %q", callAt),
			"use RFC 3339, e.g. 2026-03-02T06:30:00-05:00")
	}

	svc, _, done, err := newCallService()
	if err != nil {
		return err
	}
	defer done()

	c, err := svc.Create(cmd.Context(), wakeup.CreateRequest{
		OwnerID:       callOwner,
		ScheduledTime: at,
		Destination:   callTo,
		Channel:       wakeup.Channel(callChannel),
		Region:        callRegion,
		IsSimulated:   callSimulated,
	})
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Scheduled %s for %s by %s", c.ID, c.ScheduledTime.Local().Format(time.RFC1123), c.Channel)
	return nil
}

func runCallCancel(cmd *cobra.Command, args []string) error {
	svc, _, done, err := newCallService()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := svc.Cancel(ctx, args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("Cancelled %s", args[0])
	return nil
}
