// Package config loads and validates the pipeline's configuration from
// environment variables: defaulted getEnv helpers, a startup banner,
// directory setup with write-access checks on the required directories, and
// structured logging of every resolved value.
package config
