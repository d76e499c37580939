package emitter

import "fmt"

// ConfigError reports an invalid construction parameter.
// Use errors.Is(err, ErrConfig) to check for this error.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid emitter configuration"
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

// InputError reports feedback passed to Tell that does not match the asked
// batch.
type InputError struct {
	Field    string
	Expected int
	Actual   int
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid tell input"
	}
	return fmt.Sprintf("invalid tell input: %s has length %d, expected %d", e.Field, e.Actual, e.Expected)
}

func (e *InputError) Is(target error) bool {
	_, ok := target.(*InputError)
	return ok
}

// ProtocolError reports an Ask or Tell call made out of order.
type ProtocolError struct {
	Op    string
	State string
}

func (e *ProtocolError) Error() string {
	if e.Op == "" {
		return "emitter protocol violation"
	}
	return fmt.Sprintf("emitter protocol violation: %s called while %s", e.Op, e.State)
}

func (e *ProtocolError) Is(target error) bool {
	_, ok := target.(*ProtocolError)
	return ok
}

var (
	ErrConfig   = &ConfigError{}
	ErrInput    = &InputError{}
	ErrProtocol = &ProtocolError{}
)
