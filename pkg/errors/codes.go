package errors

// JSON-RPC 2.0 standard error codes.
const (
	// CodeParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeHandlerFailure indicates a capability handler failed; it maps
	// onto the JSON-RPC internal error code so generic clients still
	// classify it correctly
	CodeHandlerFailure int = -32603
)

// Capwire-specific error codes.
const (
	// Handshake errors (-32000 to -32099)
	CodeHandshakeFailed int = -32000 // initialize exchange failed
	CodeVersionMismatch int = -32001 // protocol versions incompatible

	// Capability errors (-32200 to -32299)
	CodeCapabilityNotFound  int = -32200 // no capability for kind+name
	CodeDuplicateCapability int = -32201 // kind+name already registered

	// Call lifecycle errors (-32300 to -32399)
	CodeCancelled     int = -32300 // call cancelled before resolution
	CodeCallTimeout   int = -32301 // call wait deadline exceeded
	CodeSessionClosed int = -32302 // session torn down

	// Transport errors (-32500 to -32599)
	CodeTransportClosed int = -32500 // byte channel failed or peer exited

	// Framing errors (-32700 range shared with JSON-RPC parse error)
	CodeMalformedFrame      int = -32700 // frame is not valid JSON
	CodeUnknownMessageShape int = -32701 // no method, result or error field
)

// CodeInfo provides human-readable information about an error code.
type CodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var codeRegistry = map[int]CodeInfo{
	CodeParseError:     {CodeParseError, "MalformedFrame", "Frame is not valid JSON", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeHandlerFailure: {CodeHandlerFailure, "HandlerFailure", "Capability handler failed", CategoryHandler, SeverityError},

	CodeHandshakeFailed: {CodeHandshakeFailed, "HandshakeFailed", "Initialize exchange failed", CategoryProtocol, SeverityCritical},
	CodeVersionMismatch: {CodeVersionMismatch, "VersionMismatch", "Protocol version mismatch", CategoryProtocol, SeverityCritical},

	CodeCapabilityNotFound:  {CodeCapabilityNotFound, "CapabilityNotFound", "Capability not registered", CategoryNotFound, SeverityError},
	CodeDuplicateCapability: {CodeDuplicateCapability, "DuplicateCapability", "Capability already registered", CategoryValidation, SeverityError},

	CodeCancelled:     {CodeCancelled, "Cancelled", "Call cancelled", CategoryCancelled, SeverityInfo},
	CodeCallTimeout:   {CodeCallTimeout, "CallTimeout", "Call timed out", CategoryTimeout, SeverityError},
	CodeSessionClosed: {CodeSessionClosed, "SessionClosed", "Session closed", CategorySession, SeverityError},

	CodeTransportClosed: {CodeTransportClosed, "TransportClosed", "Transport closed", CategoryTransport, SeverityError},

	CodeUnknownMessageShape: {CodeUnknownMessageShape, "UnknownMessageShape", "Message has no method, result or error", CategoryProtocol, SeverityError},
}

// GetCodeInfo returns information about an error code.
func GetCodeInfo(code int) (CodeInfo, bool) {
	info, exists := codeRegistry[code]
	return info, exists
}

// CodeName returns the symbolic name of an error code.
func CodeName(code int) string {
	if info, exists := codeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}
