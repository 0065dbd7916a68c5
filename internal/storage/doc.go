// Package storage provides the persistence backends behind license.Store.
//
// The file backend keeps the whole key to record mapping in one indented
// JSON document, copies the previous document into a timestamped backup
// before each overwrite and replaces the file atomically. The Postgres and
// Mongo backends keep one row or document per license and the same
// snapshot-before-write backup discipline inside the database.
package storage
