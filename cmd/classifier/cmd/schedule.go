package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bank-statement-classifier/cmd/classifier/config"
	"bank-statement-classifier/pkg/logger"
)

const (
	keyCron     = "cron"
	keyTimezone = "timezone"
	keyRunNow   = "run-now"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run classification batches on a cron schedule",
	Long: `Schedule keeps running and starts a classification batch at every tick of a
cron expression with a seconds field. A tick that arrives while the previous
batch is still running is skipped. The report of every batch is logged.

Examples:
  classifier schedule --source postgres --cron "0 */15 * * * *"
  classifier schedule --source postgres --cron "0 0 18 * * *" --timezone Asia/Tbilisi --run-now`,
	PreRunE: validateRunFlags,
	RunE:    runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	addRunFlags(scheduleCmd)

	scheduleCmd.Flags().String(keyCron, "0 */15 * * * *", "cron expression with seconds")
	scheduleCmd.Flags().String(keyTimezone, "UTC", "time zone of the cron expression")
	scheduleCmd.Flags().Bool(keyRunNow, false, "run one batch immediately before the first tick")
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(keysAndValues []interface{}) logger.Fields {
	fields := make(logger.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// newScheduler creates a cron scheduler that skips overlapping runs and
// recovers from panics inside a job.
func newScheduler(timezone string, log logger.Logger) (*cron.Cron, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	cl := cronLogger{log: log}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	), nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := viper.GetViper()
	log := logger.GetGlobalLogger().WithComponent("scheduler")

	c, err := newScheduler(v.GetString(keyTimezone), log)
	if err != nil {
		return err
	}

	job := func() { scheduledRun(ctx, v, log) }
	if _, err := c.AddFunc(v.GetString(keyCron), job); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", v.GetString(keyCron), err)
	}

	if v.GetBool(keyRunNow) {
		job()
	}

	c.Start()
	log.WithFields(logger.Fields{
		"cron":     v.GetString(keyCron),
		"timezone": v.GetString(keyTimezone),
	}).Info("Scheduler started")

	<-ctx.Done()
	log.Info("Stopping scheduler, waiting for the running batch")
	<-c.Stop().Done()
	return nil
}

// scheduledRun runs one batch and logs its report.
func scheduledRun(ctx context.Context, v *viper.Viper, log logger.Logger) {
	if ctx.Err() != nil {
		return
	}

	result, err := runBatch(ctx, v)
	if err != nil {
		log.WithError(err).Error("Scheduled classification run failed")
	}
	if result == nil {
		return
	}

	log.WithFields(logger.Fields{
		"rows_read":    result.Stats.RowsRead,
		"rows_written": result.Stats.RowsWritten,
		"rules_failed": result.Stats.RulesFailed,
		"duration":     result.Stats.Duration.String(),
	}).Info("Scheduled classification run finished")

	if v.GetString(config.KeyOutputFile) != "" {
		if err := writeReport(v, result, os.Stdout); err != nil {
			log.WithError(err).Warn("Writing report failed")
		}
	}
}
