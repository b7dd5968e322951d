// Package config loads, normalizes, and validates rythmo configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HF_TOKEN, RYTHMO_API_TOKEN and MINIO_ACCESS_KEY. The Config type centralizes
// every knob the daemon and CLI need: directories, tool locations, per-pipeline
// defaults and the optional MinIO and Redis integrations.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enums, and clear validation errors.
package config
