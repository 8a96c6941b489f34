package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/mzyy94/ledmscan/internal/ledm"
)

var (
	// ErrUnavailable means the device could not report its state: the
	// expected field was missing or the device could not be reached.
	ErrUnavailable = errors.New("scanner unavailable")
	// ErrTimedOut means the device stayed busy past the wait limit.
	ErrTimedOut = errors.New("timed out waiting for scanner")
	// ErrNoJob means no scan job was found after submission.
	ErrNoJob = errors.New("no scan job found")
	// ErrJobNotStarted means the new job was not processing right after creation.
	ErrJobNotStarted = errors.New("scan job did not start")
	// ErrBusy means a scan started by this client is still outstanding.
	ErrBusy = errors.New("a scan is already in progress")
)

// InvalidParameterError is returned when a scan parameter is rejected before
// any request is sent.
type InvalidParameterError struct {
	Name  string
	Value int
	Err   error
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s %d: %v", e.Name, e.Value, e.Err)
}

func (e *InvalidParameterError) Unwrap() error { return e.Err }

// CheckParameters validates a resolution and compression pair before any
// request is sent.
func CheckParameters(dpi, compression int) error {
	err := ledm.ScanRequest{Resolution: dpi, Compression: compression}.Validate()
	var pe *ledm.ParameterError
	if errors.As(err, &pe) {
		return &InvalidParameterError{Name: pe.Name, Value: pe.Value, Err: errors.New(pe.Reason)}
	}
	return err
}

// Describe returns a short user-facing message for a scan failure.
func Describe(err error) string {
	var (
		te *ledm.TransportError
		de *ledm.DecodeError
		ip *InvalidParameterError
	)
	switch {
	case err == nil:
		return "Scan done"
	case errors.Is(err, ErrBusy):
		return "A scan is already running"
	case errors.Is(err, ErrTimedOut):
		return "Printer is busy"
	case errors.Is(err, ErrUnavailable):
		return "Printer is unreachable"
	case errors.Is(err, ErrNoJob):
		return "Scan job not found after starting scan"
	case errors.Is(err, ErrJobNotStarted):
		return "Scan job could not start"
	case errors.Is(err, context.Canceled):
		return "Scan cancelled"
	case errors.As(err, &ip):
		return fmt.Sprintf("Invalid %s: %d", ip.Name, ip.Value)
	case errors.As(err, &de):
		return "Printer sent an unreadable response"
	case errors.As(err, &te):
		if te.StatusCode == 0 {
			return "Printer is unreachable"
		}
		return fmt.Sprintf("Printer returned HTTP %d", te.StatusCode)
	default:
		return "Scan failed: " + err.Error()
	}
}
