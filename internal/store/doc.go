// Package store holds the persistence primitives shared by the database
// backed implementations: the DBTX abstraction over *sql.DB and *sql.Tx,
// the common sentinel errors and the transaction helper.
package store
