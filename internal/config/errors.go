package config

import "fmt"

// Error wraps a configuration problem with the distinct process exit code
// reserved for it. main.go maps Code straight onto os.Exit.
type Error struct {
	Code int
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}
