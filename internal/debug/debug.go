package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (slots, directories, devices)
	LevelLive    = 2 // Live info (state transitions, captures, presses)
	LevelVerbose = 3 // Verbose (timers, file operations, configuration)
	LevelTrace   = 4 // Trace (GPIO, stale timers, very low level)
)

var (
	level  atomic.Int32
	logger = log.New(os.Stdout, "[BoothGo] ", log.LstdFlags|log.Lmicroseconds)
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (slot count, directories, devices)
// 2 = live info (transitions, captures, button presses)
// 3 = verbose (timers, file moves, config details)
// 4 = trace (GPIO, stale watchdogs, very low level)
func Init(debugLevel int) {
	level.Store(int32(debugLevel))
}

// SetOutput redirects all debug output to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Printf("[WARN] "+format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if IsEnabled(LevelInfo) {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if IsEnabled(LevelInfo) {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if IsEnabled(LevelLive) {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Transition prints a slot state change (level 2).
func Transition(slot int, from, to fmt.Stringer) {
	if IsEnabled(LevelLive) {
		logger.Printf("[LIVE] Slot %d: %s -> %s", slot, from, to)
	}
}

// Button prints a debounced button press (level 2).
func Button(pin int, action fmt.Stringer) {
	if IsEnabled(LevelLive) {
		logger.Printf("[LIVE] Button on pin %d: %s", pin, action)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if IsEnabled(LevelVerbose) {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if IsEnabled(LevelVerbose) {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if IsEnabled(LevelVerbose) {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if IsEnabled(LevelVerbose) {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if IsEnabled(LevelTrace) {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if IsEnabled(LevelTrace) {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// --- General functions ---

// Error prints an error with context (level 1+).
func Error(context string, err error) {
	if IsEnabled(LevelInfo) {
		logger.Printf("[ERROR] %s: %v", context, err)
	}
}
