// pkg/config/env_config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvironmentConfig holds driver settings read from CONTAGION_* variables.
// Unlike Options these are validated, not clamped.
type EnvironmentConfig struct {
	// Simulation
	Preset      string
	Seed        uint64
	TickRate    int
	SampleSteps int

	// Realtime feeds wall-clock time into the engine instead of fixed steps.
	Realtime bool
	// SpeedMultiplier scales elapsed time per tick.
	SpeedMultiplier float64

	// Stream server
	ServerAddr   string
	ServerPort   int
	HealthPort   int
	MaxClients   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker for client sends
	CircuitBreakerMaxRequests         uint32
	CircuitBreakerInterval            time.Duration
	CircuitBreakerTimeout             time.Duration
	CircuitBreakerMaxConsecutiveFails uint32

	// Control message rate limiting
	ControlMessagesPerSecond int
	ControlBurst             int

	// Resources
	MaxMemoryMB     int
	ShutdownTimeout time.Duration
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfigFromEnv loads configuration from environment variables with defaults
func LoadConfigFromEnv() (*EnvironmentConfig, error) {
	config := &EnvironmentConfig{
		Preset:      getEnvOrDefault("CONTAGION_PRESET", PresetLab),
		Seed:        getEnvAsUint64OrDefault("CONTAGION_SEED", 1),
		TickRate:    getEnvAsIntOrDefault("CONTAGION_TICK_RATE", 30),
		SampleSteps: getEnvAsIntOrDefault("CONTAGION_SAMPLE_STEPS", 200),

		Realtime:        getEnvAsBoolOrDefault("CONTAGION_REALTIME", false),
		SpeedMultiplier: getEnvAsFloatOrDefault("CONTAGION_SPEED", 1.0),

		ServerAddr:   getEnvOrDefault("CONTAGION_SERVER_ADDR", "localhost"),
		ServerPort:   getEnvAsIntOrDefault("CONTAGION_SERVER_PORT", 8080),
		HealthPort:   getEnvAsIntOrDefault("CONTAGION_HEALTH_PORT", 8081),
		MaxClients:   getEnvAsIntOrDefault("CONTAGION_MAX_CLIENTS", 32),
		ReadTimeout:  getEnvAsDurationOrDefault("CONTAGION_READ_TIMEOUT", 60*time.Second),
		WriteTimeout: getEnvAsDurationOrDefault("CONTAGION_WRITE_TIMEOUT", 10*time.Second),

		CircuitBreakerMaxRequests:         uint32(getEnvAsIntOrDefault("CONTAGION_CB_MAX_REQUESTS", 3)),
		CircuitBreakerInterval:            getEnvAsDurationOrDefault("CONTAGION_CB_INTERVAL", 60*time.Second),
		CircuitBreakerTimeout:             getEnvAsDurationOrDefault("CONTAGION_CB_TIMEOUT", 30*time.Second),
		CircuitBreakerMaxConsecutiveFails: uint32(getEnvAsIntOrDefault("CONTAGION_CB_MAX_FAILURES", 5)),

		ControlMessagesPerSecond: getEnvAsIntOrDefault("CONTAGION_CONTROL_RATE", 2),
		ControlBurst:             getEnvAsIntOrDefault("CONTAGION_CONTROL_BURST", 5),

		MaxMemoryMB:     getEnvAsIntOrDefault("CONTAGION_MAX_MEMORY_MB", 256),
		ShutdownTimeout: getEnvAsDurationOrDefault("CONTAGION_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := validateEnvironmentConfig(config); err != nil {
		return nil, fmt.Errorf("environment configuration validation failed: %w", err)
	}

	return config, nil
}

// validateEnvironmentConfig validates the loaded configuration
func validateEnvironmentConfig(config *EnvironmentConfig) error {
	if !IsPreset(config.Preset) {
		return &ValidationError{Field: "Preset", Value: config.Preset, Message: "unknown preset"}
	}

	if config.TickRate < 1 || config.TickRate > 240 {
		return &ValidationError{Field: "TickRate", Value: config.TickRate, Message: "must be between 1 and 240"}
	}

	if config.SampleSteps < 10 || config.SampleSteps > 10000 {
		return &ValidationError{Field: "SampleSteps", Value: config.SampleSteps, Message: "must be between 10 and 10000"}
	}

	if config.SpeedMultiplier < 0.1 || config.SpeedMultiplier > 10 {
		return &ValidationError{Field: "SpeedMultiplier", Value: config.SpeedMultiplier, Message: "must be between 0.1 and 10"}
	}

	if config.ServerAddr == "" {
		return &ValidationError{Field: "ServerAddr", Value: config.ServerAddr, Message: "cannot be empty"}
	}

	if config.ServerPort < 1024 || config.ServerPort > 65535 {
		return &ValidationError{Field: "ServerPort", Value: config.ServerPort, Message: "must be between 1024 and 65535"}
	}

	if config.HealthPort < 1024 || config.HealthPort > 65535 {
		return &ValidationError{Field: "HealthPort", Value: config.HealthPort, Message: "must be between 1024 and 65535"}
	}

	if config.HealthPort == config.ServerPort {
		return &ValidationError{Field: "HealthPort", Value: config.HealthPort, Message: "must differ from ServerPort"}
	}

	if config.MaxClients < 1 || config.MaxClients > 1000 {
		return &ValidationError{Field: "MaxClients", Value: config.MaxClients, Message: "must be between 1 and 1000"}
	}

	if config.ReadTimeout < time.Second || config.ReadTimeout > 5*time.Minute {
		return &ValidationError{Field: "ReadTimeout", Value: config.ReadTimeout, Message: "must be between 1s and 5m"}
	}

	if config.WriteTimeout < time.Second || config.WriteTimeout > time.Minute {
		return &ValidationError{Field: "WriteTimeout", Value: config.WriteTimeout, Message: "must be between 1s and 1m"}
	}

	if config.CircuitBreakerMaxRequests < 1 || config.CircuitBreakerMaxRequests > 100 {
		return &ValidationError{Field: "CircuitBreakerMaxRequests", Value: config.CircuitBreakerMaxRequests, Message: "must be between 1 and 100"}
	}

	if config.CircuitBreakerInterval < time.Second {
		return &ValidationError{Field: "CircuitBreakerInterval", Value: config.CircuitBreakerInterval, Message: "must be at least 1s"}
	}

	if config.CircuitBreakerTimeout < time.Second {
		return &ValidationError{Field: "CircuitBreakerTimeout", Value: config.CircuitBreakerTimeout, Message: "must be at least 1s"}
	}

	if config.CircuitBreakerMaxConsecutiveFails < 1 {
		return &ValidationError{Field: "CircuitBreakerMaxConsecutiveFails", Value: config.CircuitBreakerMaxConsecutiveFails, Message: "must be at least 1"}
	}

	if config.ControlMessagesPerSecond < 1 {
		return &ValidationError{Field: "ControlMessagesPerSecond", Value: config.ControlMessagesPerSecond, Message: "must be at least 1"}
	}

	if config.ControlBurst < config.ControlMessagesPerSecond {
		return &ValidationError{Field: "ControlBurst", Value: config.ControlBurst, Message: "must be at least ControlMessagesPerSecond"}
	}

	if config.MaxMemoryMB < 16 {
		return &ValidationError{Field: "MaxMemoryMB", Value: config.MaxMemoryMB, Message: "must be at least 16"}
	}

	if config.ShutdownTimeout < time.Second {
		return &ValidationError{Field: "ShutdownTimeout", Value: config.ShutdownTimeout, Message: "must be at least 1s"}
	}

	return nil
}

// ApplyEnvironmentOverrides applies CONTAGION_DURATION and CONTAGION_POINTS to
// loaded options. Values are left for New to clamp.
func ApplyEnvironmentOverrides(opts *Options) error {
	if opts == nil {
		return fmt.Errorf("cannot apply overrides to nil options")
	}

	if v := os.Getenv("CONTAGION_DURATION"); v != "" {
		duration, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ValidationError{Field: "SimulationDuration", Value: v, Message: "not a number"}
		}
		opts.SimulationDuration = duration
	}

	if v := os.Getenv("CONTAGION_POINTS"); v != "" {
		points, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Field: "NumberOfPoints", Value: v, Message: "not an integer"}
		}
		opts.Behavior.NumberOfPoints = points
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64OrDefault(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintValue
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
