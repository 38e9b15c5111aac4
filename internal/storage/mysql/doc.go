// Package mysql persists finished workflow results in MySQL. It owns the
// connection pool settings and applies the embedded schema migrations from
// deploy/migrations before the store is handed to the executor.
package mysql
