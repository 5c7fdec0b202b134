package protocol

// Method names used on the wire.
const (
	// Lifecycle
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"

	// Tools
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"

	// Resources
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"

	// Prompts
	MethodListPrompts = "prompts/list"
	MethodGetPrompt   = "prompts/get"
)

// CapabilityKind identifies the flavor of a registered capability.
type CapabilityKind string

const (
	KindTool     CapabilityKind = "tool"
	KindResource CapabilityKind = "resource"
	KindPrompt   CapabilityKind = "prompt"
)

// ListMethod returns the discovery method for a capability kind, or ""
// for an unknown kind.
func (k CapabilityKind) ListMethod() string {
	switch k {
	case KindTool:
		return MethodListTools
	case KindResource:
		return MethodListResources
	case KindPrompt:
		return MethodListPrompts
	}
	return ""
}

// CapabilityDescriptor describes one invocable capability: a tool, a
// URI-addressed resource (possibly templated), or a prompt template.
// Descriptors are immutable once registered.
type CapabilityDescriptor struct {
	Kind        CapabilityKind `json:"kind"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      *Schema        `json:"schema,omitempty"`
}

// Schema is a pragmatic subset of JSON Schema used to describe and
// validate capability arguments.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []interface{}      `json:"enum,omitempty"`
	Default     interface{}        `json:"default,omitempty"`
}

// ClientInfo identifies the connecting client during the handshake.
type ClientInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// ServerInfo identifies the server in the handshake response.
type ServerInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string      `json:"protocolVersion"`
	ClientInfo      *ClientInfo `json:"clientInfo,omitempty"`
}

// InitializeResult is the payload of a successful initialize response.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      *ServerInfo     `json:"serverInfo,omitempty"`
	Capabilities    map[string]bool `json:"capabilities,omitempty"`
}

// CallToolParams is the payload of tools/call.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ReadResourceParams is the payload of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// GetPromptParams is the payload of prompts/get.
type GetPromptParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ListToolsResult is the payload of tools/list responses.
type ListToolsResult struct {
	Tools []CapabilityDescriptor `json:"tools"`
}

// ListResourcesResult is the payload of resources/list responses.
type ListResourcesResult struct {
	Resources []CapabilityDescriptor `json:"resources"`
}

// ListPromptsResult is the payload of prompts/list responses.
type ListPromptsResult struct {
	Prompts []CapabilityDescriptor `json:"prompts"`
}

// ResourceContents is the conventional shape returned by resource
// handlers: the resolved URI plus text payload.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// PromptMessage is one role/content pair in a rendered prompt.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptResult is the conventional shape returned by prompt handlers.
type PromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}
