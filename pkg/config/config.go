// Package config reads runtime settings from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// GetString returns the named environment variable or fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt parses the named environment variable as an integer. Unparseable
// values fall back and are logged rather than aborting startup.
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetBool parses the named environment variable as a boolean.
func GetBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetSeconds reads an integer environment variable expressed in seconds.
func GetSeconds(key string, fallback int) time.Duration {
	return time.Duration(GetInt(key, fallback)) * time.Second
}

// GetHours reads an integer environment variable expressed in hours.
func GetHours(key string, fallback int) time.Duration {
	return time.Duration(GetInt(key, fallback)) * time.Hour
}
