package remote

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrApplication = errors.New("application error")
	ErrTransport   = errors.New("transport error")
)

// AppError is returned when the service answered with a code other than 200.
type AppError struct {
	Op   string
	Code int
	Msg  string
}

func (e *AppError) Error() string {
	if e == nil {
		return ErrApplication.Error()
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s (code %d)", e.Op, ErrApplication, e.Code)
	}
	return fmt.Sprintf("%s: %s (code %d): %s", e.Op, ErrApplication, e.Code, e.Msg)
}

func (e *AppError) Is(target error) bool { return target == ErrApplication }

// TransportError reports network failures and unreadable response bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ErrTransport.Error()
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrTransport, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// AsAppError returns the AppError in err's chain, if any.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
