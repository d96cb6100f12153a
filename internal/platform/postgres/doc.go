// Package postgres provides the PostgreSQL backed implementations of the
// task store and the metrics sink, the embedded schema migrations, and the
// error mapping from driver errors to the store sentinels.
package postgres
