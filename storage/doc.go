// Package storage holds the usage record model and the Store interface.
//
// Usage records are written for measured operations and pruned by background
// maintenance. The usagestore subpackage implements Store on SQLite or
// PostgreSQL through sqlx.
package storage
