package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses key with parse, falling back to defaultVal when the variable is
// unset or malformed.
func lookup[T any](key string, defaultVal T, parse func(string) (T, error)) T {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	v, err := parse(strings.TrimSpace(value))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnv(key, defaultVal string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	return lookup(key, defaultVal, strconv.Atoi)
}

func getEnvAsBool(key string, defaultVal bool) bool {
	return lookup(key, defaultVal, strconv.ParseBool)
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	return lookup(key, defaultVal, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	return lookup(key, defaultVal, time.ParseDuration)
}

// getEnvAsCron reads a cron spec. "off", "disabled" and "manual" leave the job
// registered but unscheduled.
func getEnvAsCron(key, defaultVal string) string {
	value := strings.TrimSpace(getEnv(key, defaultVal))
	switch strings.ToLower(value) {
	case "off", "disabled", "manual":
		return ""
	}
	return value
}

func getEnvAsStringSlice(key string, defaults []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaults
	}
	filtered := make([]string, 0, strings.Count(value, ",")+1)
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return defaults
	}
	return filtered
}
