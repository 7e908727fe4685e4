// Package reminder decides which habits are due and dispatches their
// Telegram reminders.
//
// The service holds no timer of its own: the app layer triggers RunOnce
// once per minute through cron, with overlap protection, so a single scan
// always finishes before the next one starts.
//
// Delivery is at-most-once per gate-pass. A habit is due only during the
// exact minute matching its configured time of day; the periodicity gate
// compares calendar dates, not elapsed hours, so a habit reminded at
// 08:00 with a one-day periodicity is eligible again from the next
// midnight.
package reminder
