// Package config loads, normalizes, and validates the TOML configuration
// that drives the loom daemon and CLI.
//
// Load applies three layers in order: compiled defaults, the config file,
// then environment variable fallbacks for credentials. All path fields are
// tilde-expanded and made absolute before any other package sees them, so
// consumers never deal with relative or home-anchored paths.
package config
