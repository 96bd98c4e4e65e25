// Package config handles loading and parsing of configuration from YAML files,
// .env files and environment variables. It defines the default probe target
// (host, port, path, timeout), the reference service address and logging settings.
package config
