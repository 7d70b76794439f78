package protocol

// Method names spoken between the client runtime and a job server.
const (
	// MethodDescribe asks for the capability descriptors of a node.
	MethodDescribe = "node.describe"
	// MethodInvoke calls one operation on a node.
	MethodInvoke = "node.invoke"
	// MethodSubscribe opens the single multiplexed event subscription for a node.
	MethodSubscribe = "node.subscribe"
	// MethodUnsubscribe closes it.
	MethodUnsubscribe = "node.unsubscribe"

	// MethodEvent is the server-to-client notification carrying a NotificationEvent.
	MethodEvent = "node.event"
)

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
)

// Job server error codes.
const (
	// CodeRemoteFailure means the operation ran on the node and failed there.
	// The error data carries {"type": "<remote error type>"}.
	CodeRemoteFailure ErrorCode = -32001
	// CodeUnknownNode means the node is not (or no longer) registered.
	CodeUnknownNode ErrorCode = -32002
)
