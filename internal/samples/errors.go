package samples

import "errors"

// Load failures. Every one means "no sound for this trigger"; they differ in
// whether a later attempt can succeed.
var (
	// ErrFetch is a transport failure; the next trigger retries.
	ErrFetch = errors.New("sample fetch failed")
	// ErrTimeout means the fetch or decode exceeded the priority's deadline.
	ErrTimeout = errors.New("sample load timed out")
	// ErrEmpty means the transport returned no bytes.
	ErrEmpty = errors.New("sample payload empty")
	// ErrDecode is permanent for the identifier until Forget is called.
	ErrDecode = errors.New("sample decode failed")
)

// IsTransient reports whether a retry on a later trigger may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFetch) || errors.Is(err, ErrTimeout)
}
