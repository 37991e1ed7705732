package hnsw

import "fmt"

// errf wraps one of this package's sentinel error kinds with a formatted
// message using the %w idiom.
func errf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
