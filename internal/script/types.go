package script

import "time"

// Config defines runtime configuration
type Config struct {
	Timeout          time.Duration // Execution timeout per Execute and callback
	MaxCallStackSize int           // Maximum call stack depth; zero keeps the goja default
	EnableConsole    bool          // Allow console.log/warn/error/info
}

// Result holds execution result
type Result struct {
	Value    any           // Exported return value
	Console  []LogEntry    // Console output produced by the run
	Duration time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DefaultConfig returns the default runtime configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}
