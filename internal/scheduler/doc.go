// Package scheduler triggers named jobs on cron, interval and daily schedules
// in a configured timezone.
//
// Jobs run on cron's goroutines with a per-run timeout and panic recovery. A
// job that is still running when its next trigger fires is skipped for that
// trigger. Interval jobs may start after a fixed first delay instead of one
// full interval.
package scheduler
