// Package config loads, validates, and normalizes loom configuration.
//
// Configuration comes from a TOML file (default ~/.config/loom/config.toml,
// or ./loom.toml for project-local setups). Defaults apply when the file is
// missing so the CLI works out of the box. Path fields are tilde-expanded and
// made absolute during normalization; Validate rejects unusable values before
// any subsystem sees them.
package config
