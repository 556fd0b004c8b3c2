// Package config loads the daemon configuration from a YAML file. Every field
// is optional; Default holds the documented defaults and Load fills the
// remaining gaps.
package config
