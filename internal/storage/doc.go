// Package storage is the SQLite-backed record store for users and habits.
//
// It implements the narrow persistence surfaces the services declare
// (habit.Store, user.Store, reminder.Store). The schema is embedded and
// applied on open; timestamps are kept as RFC 3339 text.
package storage
