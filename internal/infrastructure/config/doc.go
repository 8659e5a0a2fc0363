// Package config loads and validates the service configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Hardcoded defaults (defaultConfig)
//  2. A YAML file (configs/config.yaml by default)
//  3. ROOMHUB_* environment variables
//
// The room document (the room's props, sensors and scenario rules) is NOT
// part of this package; it is a flat JSON file owned by internal/roomcfg and
// hot-reloadable at runtime. This package only knows its path.
package config
