package enclave

import (
	"fmt"

	"github.com/ruteri/tee-keyseal/interfaces"
)

// Status is the code returned across the boundary. ECall returns two of them:
// the operation's own status and the crossing status.
type Status uint32

const (
	StatusSuccess Status = iota
	StatusUnexpected
	StatusInvalidParameter
	StatusOutOfMemory
	StatusMACMismatch

	// Crossing-level statuses.
	StatusInvalidEnclaveID
	StatusInvalidFunction
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnexpected:
		return "unexpected"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusMACMismatch:
		return "mac mismatch"
	case StatusInvalidEnclaveID:
		return "invalid enclave id"
	case StatusInvalidFunction:
		return "invalid function"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// Err maps a status to its error kind. It returns nil for StatusSuccess.
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusInvalidParameter, StatusInvalidFunction:
		return interfaces.ErrInvalidParameter
	case StatusOutOfMemory:
		return interfaces.ErrOutOfMemory
	case StatusMACMismatch:
		return interfaces.ErrIntegrity
	case StatusInvalidEnclaveID:
		return interfaces.ErrNotInitialized
	default:
		return interfaces.ErrUnexpected
	}
}
