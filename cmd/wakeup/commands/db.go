package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/wakeup/display"
	"github.com/teranos/wakeup/wakeup"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the wake-up database",
	Long: `Manage the SQLite database.

Examples:
  wakeup db migrate                  # Apply pending migrations
  wakeup db stats                    # Count calls by status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := openDatabase(dbPathFlag)
		if err != nil {
			return err
		}
		defer conn.Close()
		pterm.Success.Println("Database is up to date")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count wake-up calls by status",
	RunE:  runDbStats,
}

var dbPathFlag string

func init() {
	DbCmd.PersistentFlags().StringVar(&dbPathFlag, "db-path", "", "Database path (overrides config)")
	DbCmd.AddCommand(dbMigrateCmd, dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	conn, err := openDatabase(dbPathFlag)
	if err != nil {
		return err
	}
	defer conn.Close()

	counts, err := wakeup.NewStore(conn).CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), counts)
	}

	data := pterm.TableData{{"Status", "Calls"}}
	total := 0
	for _, s := range []wakeup.Status{
		wakeup.StatusScheduled, wakeup.StatusActive, wakeup.StatusCompleted,
		wakeup.StatusFailed, wakeup.StatusCancelled,
	} {
		data = append(data, []string{string(s), fmt.Sprint(counts[s])})
		total += counts[s]
	}
	data = append(data, []string{"total", fmt.Sprint(total)})
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
