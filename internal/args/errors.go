package args

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every error that makes a batch unstartable
// because of its arguments.
var ErrConfiguration = errors.New("configuration error")

// ConfigNotFoundError is returned when the named base file does not exist
type ConfigNotFoundError struct {
	Name string
	Dir  string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("argument file %q not found in %s", e.Name, e.Dir)
}

func (e *ConfigNotFoundError) Is(target error) bool {
	return target == ErrConfiguration
}

// InvalidArgumentError names the key that could not be accepted
type InvalidArgumentError struct {
	Key    string
	Value  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid argument %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid argument %s=%q: %s", e.Key, e.Value, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrConfiguration
}
