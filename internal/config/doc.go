// Package config loads, normalizes, and validates renderpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a working-directory .env file, and
// honours RENDERPIPE_* environment overrides. The Config type centralizes every
// knob the CLI, worker, and render pipeline need, including the render cache
// capacities read by rendercache.SettingsFromConfig.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
