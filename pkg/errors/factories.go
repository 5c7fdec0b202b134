package errors

import (
	"fmt"
)

// CapabilityErrorData carries structured data for capability errors.
type CapabilityErrorData struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// ValidationErrorData carries structured data for parameter validation
// failures.
type ValidationErrorData struct {
	Parameter string `json:"parameter,omitempty"`
	Expected  string `json:"expected,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// VersionErrorData carries the versions involved in a handshake
// mismatch.
type VersionErrorData struct {
	ClientVersion string `json:"client_version"`
	ServerVersion string `json:"server_version"`
}

// MalformedFrame creates an error for frames that fail JSON decoding.
func MalformedFrame(cause error) WireError {
	return Wrap(cause, CodeParseError, "malformed frame", CategoryProtocol, SeverityError)
}

// UnknownMessageShape creates an error for frames that decode but
// match no message type.
func UnknownMessageShape() WireError {
	return New(CodeUnknownMessageShape, "message has no method, result or error field", CategoryProtocol, SeverityError)
}

// TransportClosed creates an error for operations on a failed or
// closed transport.
func TransportClosed(cause error) WireError {
	err := New(CodeTransportClosed, "transport closed", CategoryTransport, SeverityError)
	if cause != nil {
		err = Wrap(cause, CodeTransportClosed, "transport closed", CategoryTransport, SeverityError)
	}
	return err
}

// HandshakeFailed creates an error for a failed initialize exchange.
func HandshakeFailed(reason string, cause error) WireError {
	msg := "handshake failed"
	if reason != "" {
		msg = fmt.Sprintf("handshake failed: %s", reason)
	}
	if cause != nil {
		return Wrap(cause, CodeHandshakeFailed, msg, CategoryProtocol, SeverityCritical)
	}
	return New(CodeHandshakeFailed, msg, CategoryProtocol, SeverityCritical)
}

// VersionMismatch creates an error for incompatible protocol versions.
func VersionMismatch(clientVersion, serverVersion string) WireError {
	return Newf(
		CodeVersionMismatch, CategoryProtocol, SeverityCritical,
		"protocol version mismatch: client %q, server %q", clientVersion, serverVersion,
	).WithData(&VersionErrorData{
		ClientVersion: clientVersion,
		ServerVersion: serverVersion,
	})
}

// CapabilityNotFound creates an error for unregistered capabilities.
func CapabilityNotFound(kind, name string) WireError {
	return Newf(
		CodeCapabilityNotFound, CategoryNotFound, SeverityError,
		"%s '%s' not found", kind, name,
	).WithData(&CapabilityErrorData{Kind: kind, Name: name})
}

// DuplicateCapability creates an error for a kind+name registration
// collision.
func DuplicateCapability(kind, name string) WireError {
	return Newf(
		CodeDuplicateCapability, CategoryValidation, SeverityError,
		"%s '%s' is already registered", kind, name,
	).WithData(&CapabilityErrorData{Kind: kind, Name: name})
}

// MethodNotFound creates an error for an unrecognized wire method.
func MethodNotFound(method string) WireError {
	return Newf(
		CodeMethodNotFound, CategoryProtocol, SeverityError,
		"method %q not found", method,
	)
}

// InvalidParams creates an error for a request whose arguments fail
// schema validation. The handler is never invoked.
func InvalidParams(parameter, reason string) WireError {
	return Newf(
		CodeInvalidParams, CategoryValidation, SeverityError,
		"invalid params: %s (%s)", parameter, reason,
	).WithData(&ValidationErrorData{Parameter: parameter, Reason: reason})
}

// MissingParameter creates an error for a required argument that was
// not supplied.
func MissingParameter(parameter string) WireError {
	return Newf(
		CodeInvalidParams, CategoryValidation, SeverityError,
		"missing required parameter: %s", parameter,
	).WithData(&ValidationErrorData{Parameter: parameter, Reason: "missing"})
}

// HandlerFailure creates an error for a capability handler that
// returned an error or panicked. Only the description string crosses
// the wire.
func HandlerFailure(name string, cause error) WireError {
	return Wrap(
		cause, CodeHandlerFailure,
		fmt.Sprintf("handler '%s' failed: %v", name, cause),
		CategoryHandler, SeverityError,
	)
}

// CallTimeout creates an error for a call whose response did not
// arrive within the configured wait.
func CallTimeout(method string) WireError {
	return Newf(
		CodeCallTimeout, CategoryTimeout, SeverityError,
		"call %q timed out", method,
	)
}

// Cancelled creates an error for a call cancelled before resolution.
func Cancelled(method string) WireError {
	return Newf(
		CodeCancelled, CategoryCancelled, SeverityInfo,
		"call %q cancelled", method,
	)
}

// SessionClosed creates an error for calls attempted after teardown.
func SessionClosed() WireError {
	return New(CodeSessionClosed, "session closed", CategorySession, SeverityError)
}
