// Package config loads the node configuration from a YAML file, ZTP_*
// environment variables and command line flags, and validates it at entry.
package config
