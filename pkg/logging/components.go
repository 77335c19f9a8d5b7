package logging

// Component loggers shared across packages

// Steps logger for step handler operations
var Steps = NewLogger("steps")

// Inventory logger for inventory lookup operations
var Inventory = NewLogger("inventory")

// Template logger for template store operations
var Template = NewLogger("template")

// History logger for history persistence operations
var History = NewLogger("history")

// CommandExecuted logs an external command invocation
func CommandExecuted(command string, exitCode int) {
	Steps.Debug("command=%q exit_code=%d", command, exitCode)
}

// InventoryMiss logs a missed inventory lookup
func InventoryMiss(kind, key string) {
	Inventory.Warn("lookup_miss kind=%s key=%q", kind, key)
}
