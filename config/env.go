package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RequireEnv returns the value of the specified environment variable, or an error
// if no value is associated with that identifier.
func RequireEnv(env string) (string, error) {
	value, ok := os.LookupEnv(env)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %s is required", env)
	}
	return value, nil
}

// EnvOrDefault fetches an environment variable value, or if not set returns the fallback value
func EnvOrDefault(key string, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// EnvOrDefaultBool fetches an environment variable parsed as a bool, or if not set
// or empty returns the fallback value.
func EnvOrDefaultBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid boolean value for environment variable %q: %q", key, value)
	}
	return boolVal, nil
}

// EnvOrDefaultInt fetches an environment variable parsed as an int, or if not set
// or empty returns the fallback value.
func EnvOrDefaultInt(key string, fallback int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid integer value for environment variable %q: %q", key, value)
	}
	return intVal, nil
}

// EnvOrDefaultDuration fetches an environment variable parsed with time.ParseDuration,
// or if not set or empty returns the fallback value. A bare integer is read as
// milliseconds. Negative durations are rejected.
func EnvOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		millis, intErr := strconv.Atoi(value)
		if intErr != nil {
			return fallback, fmt.Errorf("invalid duration value for environment variable %q: %q", key, value)
		}
		duration = time.Duration(millis) * time.Millisecond
	}
	if duration < 0 {
		return fallback, fmt.Errorf("negative duration for environment variable %q: %q", key, value)
	}
	return duration, nil
}

// EnvOrDefaultList fetches a comma separated environment variable, trimming
// whitespace and dropping empty entries.
func EnvOrDefaultList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
