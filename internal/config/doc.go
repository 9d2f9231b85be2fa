// Package config defines the settings used by the countdown binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills in defaults for every optional field, so a file holding only
// server_addr is a complete local setup: bolt store, in-process authority,
// no MQTT and no metrics endpoint.
package config
