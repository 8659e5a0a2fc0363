// Package database provides the SQLite connection and schema migration
// support backing the session-history store.
//
// Migrations are embedded at build time (see the migrations package) and
// applied on startup in version order, each in its own transaction.
package database
