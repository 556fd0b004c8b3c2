// Package mysql persists the authoritative WMI registry in MySQL. It owns the
// connection setup, the embedded schema migrations and a repository that
// serves manufacturer lookups to the offline VIN decoder.
package mysql
