package bridge

import "fmt"

// Error is a structured error reported by the broker for one request.
type Error struct {
	Request string
	Message string
}

func (e *Error) Error() string {
	if e.Request != "" {
		return fmt.Sprintf("bridge: %s: %s", e.Request, e.Message)
	}
	return fmt.Sprintf("bridge: %s", e.Message)
}

// IsBridgeError checks if the error is a broker-reported request error
func IsBridgeError(err error) bool {
	_, ok := err.(*Error)
	return ok
}
