// Package config provides the configuration of a scan run: timeouts,
// concurrency, port selection and report preferences, together with the
// optional YAML configuration file that supplies defaults and per-target
// port overrides.
package config
