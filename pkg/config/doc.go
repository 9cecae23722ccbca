// Package config loads the scaler process configuration from defaults, an
// optional YAML file, SCALER_* environment variables and command line flags.
package config
