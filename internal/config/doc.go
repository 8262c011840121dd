// Package config loads the daemon configuration from a YAML file, an
// optional .env file and AGENTKERNEL_ prefixed environment variables, in
// that order of precedence from lowest to highest.
package config
