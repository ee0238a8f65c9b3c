// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// The REST base URL and the streaming base URL are configured independently;
// keeping their host and scheme consistent is left to deployment tooling.
package config
