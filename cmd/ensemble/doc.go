// Package main provides the entry point for ensemble.
//
// ensemble starts three demo workloads (configuration updates, resource metrics report, scan
// files) and waits until either all of them finish or the process receives Ctrl+C or SIGTERM.
// Cooperative workloads stop early on cancellation; the rest are abandoned when the process exits.
//
// Usage:
//
//	ensemble [flags]
//	ensemble --delay 5s --cooperative scan-files
//	ensemble --config ensemble.yaml --metrics-addr :9090
//
// Configuration is read, in increasing priority, from built-in defaults, the YAML file given by
// --config, ENSEMBLE_* environment variables, and flags.
package main
