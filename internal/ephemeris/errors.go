package ephemeris

import "fmt"

// FetchError means the ephemeris source was unreachable or returned an
// unusable response. It is fatal for the computation that needed the data.
type FetchError struct {
	Body   Body
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ephemeris fetch %s: status %d: %v", e.Body, e.Status, e.Err)
	}
	return fmt.Sprintf("ephemeris fetch %s: %v", e.Body, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
