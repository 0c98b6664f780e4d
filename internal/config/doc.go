// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// One file configures both the socket client and the envelope server; each
// command reads the sections it needs.
package config
