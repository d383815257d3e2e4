// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Tokens should be supplied through realtime.token_env or realtime.token_file
// rather than written into the file.
package config
