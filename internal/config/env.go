// Package config provides the options file and environment helpers for go-bonbon.
package config

import (
	"os"
)

// Environment overrides.
const (
	EnvDeviceAddress = "ROBOT_IP"
	EnvOptionsPath   = "BONBON_OPTIONS"
)

// DefaultOptionsPath is used when BONBON_OPTIONS is not set.
const DefaultOptionsPath = "res/options.yaml"

// OptionsPath returns the options file path from BONBON_OPTIONS.
// Falls back to the provided default if not set.
func OptionsPath(defaultPath string) string {
	if p := os.Getenv(EnvOptionsPath); p != "" {
		return p
	}
	return defaultPath
}

// DeviceAddress returns the device address from ROBOT_IP.
// Falls back to the provided default if not set.
func DeviceAddress(defaultAddr string) string {
	if ip := os.Getenv(EnvDeviceAddress); ip != "" {
		return ip
	}
	return defaultAddr
}
