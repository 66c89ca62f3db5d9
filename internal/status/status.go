// Package status defines the closed error taxonomy surfaced to hosts of
// the connections core, mirroring connections/status.h of the reference
// implementation.
package status

import "fmt"

// Code is a result code returned by every host-facing API operation.
type Code int

// Status codes, in the order declared by connections/status.h.
const (
	// Success indicates the operation completed normally.
	Success Code = iota

	// Error is a generic, otherwise-unclassified failure.
	Error

	// OutOfOrderAPICall indicates the caller invoked an operation that the
	// local state machine does not permit in its current state.
	OutOfOrderAPICall

	// AlreadyHaveActiveStrategy indicates the service router already owns
	// a controller running an incompatible strategy.
	AlreadyHaveActiveStrategy

	// AlreadyAdvertising indicates the session is already advertising.
	AlreadyAdvertising

	// AlreadyDiscovering indicates the session is already discovering.
	AlreadyDiscovering

	// AlreadyListening indicates the session already owns an incoming
	// connection listener.
	AlreadyListening

	// EndpointIOError indicates a channel read or write failed.
	EndpointIOError

	// EndpointUnknown indicates the endpoint id named in the request is
	// not known to this session.
	EndpointUnknown

	// ConnectionRejected indicates the remote peer (or local host) rejected
	// the connection request.
	ConnectionRejected

	// AlreadyConnectedToEndpoint indicates a Connected entry already
	// exists for this endpoint id.
	AlreadyConnectedToEndpoint

	// NotConnectedToEndpoint indicates the endpoint exists but is not in
	// the Connected state.
	NotConnectedToEndpoint

	// BluetoothError indicates a Bluetooth Classic medium failure.
	BluetoothError

	// BLEError indicates a BLE medium failure.
	BLEError

	// WifiLANError indicates a Wi-Fi LAN medium failure.
	WifiLANError

	// PayloadUnknown indicates the payload id named in the request is not
	// known to this session.
	PayloadUnknown
)

var names = map[Code]string{
	Success:                    "Success",
	Error:                      "Error",
	OutOfOrderAPICall:          "OutOfOrderApiCall",
	AlreadyHaveActiveStrategy:  "AlreadyHaveActiveStrategy",
	AlreadyAdvertising:         "AlreadyAdvertising",
	AlreadyDiscovering:         "AlreadyDiscovering",
	AlreadyListening:           "AlreadyListening",
	EndpointIOError:            "EndpointIoError",
	EndpointUnknown:            "EndpointUnknown",
	ConnectionRejected:         "ConnectionRejected",
	AlreadyConnectedToEndpoint: "AlreadyConnectedToEndpoint",
	NotConnectedToEndpoint:     "NotConnectedToEndpoint",
	BluetoothError:             "BluetoothError",
	BLEError:                   "BleError",
	WifiLANError:               "WifiLanError",
	PayloadUnknown:             "PayloadUnknown",
}

// String returns the canonical name of the status code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}

	return fmt.Sprintf("Unknown(%d)", int(c))
}

// OK reports whether the code represents success.
func (c Code) OK() bool {
	return c == Success
}

// Status is an error-shaped wrapper around a Code, carrying an optional
// human-readable detail string. It implements the error interface so it
// can be returned from internal Go APIs while still round-tripping to a
// wire Code for host-facing result callbacks.
type Status struct {
	Code   Code
	Detail string
}

// New creates a Status from a code and an optional detail message.
func New(code Code, detail string) *Status {
	return &Status{Code: code, Detail: detail}
}

// Error implements the error interface.
func (s *Status) Error() string {
	if s.Detail == "" {
		return s.Code.String()
	}

	return fmt.Sprintf("%s: %s", s.Code, s.Detail)
}

// Is reports whether err is a *Status with the same Code, so callers can
// use errors.Is(err, status.New(status.EndpointUnknown, "")).
func (s *Status) Is(target error) bool {
	other, ok := target.(*Status)
	if !ok {
		return false
	}

	return s.Code == other.Code
}

// FromError extracts the Code from err if it is a *Status, otherwise
// returns Error.
func FromError(err error) Code {
	if err == nil {
		return Success
	}

	var s *Status
	if ok := asStatus(err, &s); ok {
		return s.Code
	}

	return Error
}

func asStatus(err error, target **Status) bool {
	for err != nil {
		if s, ok := err.(*Status); ok { //nolint:errorlint // deliberate concrete-type walk mirroring status.cc's simple switch
			*target = s
			return true
		}

		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = unwrapper.Unwrap()
	}

	return false
}
