// Package config provides configuration loading for Vacmesh Core.
//
// Configuration is loaded from a YAML file with environment variable
// overrides, in this precedence order:
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. VACMESH_* environment variables
//
// Secrets (MQTT credentials, InfluxDB token) should come from the
// environment rather than the config file in production deployments.
package config
