// Package protocol defines the value types shared by every layer of the remote
// component runtime: operation and notification contracts, capability
// descriptors, handler versions, and the envelopes that carry invocations,
// results and notification events between a client and a job server.
package protocol

import (
	"fmt"
	"strings"
)

// NodeID identifies a live component on the server (a job, a queue, a
// scheduler). It is opaque to the client and used as a map key everywhere.
type NodeID string

// String implements fmt.Stringer.
func (id NodeID) String() string {
	return string(id)
}

// TypeName describes a parameter, return or payload type by name. The client
// never interprets it; it only participates in contract identity.
type TypeName string

// Well-known type names.
const (
	TypeVoid   TypeName = "void"
	TypeString TypeName = "string"
	TypeInt    TypeName = "int"
	TypeBool   TypeName = "bool"
	TypeObject TypeName = "object"
)

// OperationType is the contract of one remote operation. Two operation types
// are the same operation when name, parameter signature and return type all
// match.
type OperationType struct {
	Name       string     `json:"name"`
	Params     []TypeName `json:"params,omitempty"`
	ReturnType TypeName   `json:"returnType"`
}

// NewOperation builds an OperationType.
func NewOperation(name string, returnType TypeName, params ...TypeName) OperationType {
	return OperationType{
		Name:       name,
		Params:     params,
		ReturnType: returnType,
	}
}

// Signature returns the parameter signature as plain strings, the form the
// transport sends on the wire.
func (o OperationType) Signature() []string {
	sig := make([]string, len(o.Params))
	for i, p := range o.Params {
		sig[i] = string(p)
	}
	return sig
}

// Key returns a string that is equal for two operations exactly when the
// operations are equal. It is used to index dispatch tables since slices
// make OperationType itself unusable as a map key.
func (o OperationType) Key() string {
	var b strings.Builder
	b.WriteString(o.Name)
	b.WriteByte('(')
	for i, p := range o.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(p))
	}
	b.WriteString(")")
	b.WriteString(string(o.ReturnType))
	return b.String()
}

// Equal reports structural equality.
func (o OperationType) Equal(other OperationType) bool {
	return o.Key() == other.Key()
}

// String implements fmt.Stringer.
func (o OperationType) String() string {
	return fmt.Sprintf("%s(%s) %s", o.Name, strings.Join(o.Signature(), ", "), o.ReturnType)
}

// NotificationType is the contract of one kind of notification a node can
// emit. It is comparable and may be used directly as a map key.
type NotificationType struct {
	Name     string   `json:"name"`
	DataType TypeName `json:"dataType"`
}

// NewNotificationType builds a NotificationType.
func NewNotificationType(name string, dataType TypeName) NotificationType {
	return NotificationType{Name: name, DataType: dataType}
}

// String implements fmt.Stringer.
func (t NotificationType) String() string {
	return t.Name + "<" + string(t.DataType) + ">"
}

// Notification is one delivered event. Sequence is monotonic per
// (RemoteID, Type) and is only used for diagnostics and for discarding events
// that predate a synchronised snapshot; delivery order is never derived from it.
type Notification struct {
	RemoteID NodeID
	Type     NotificationType
	Sequence int64
	Data     any
}

// Invocation is the envelope of one operation call on a node.
type Invocation struct {
	Node      NodeID   `json:"node"`
	Operation string   `json:"operation"`
	Signature []string `json:"signature"`
	Args      []any    `json:"args"`
}

// InvocationResult is the envelope of the answer to an Invocation.
type InvocationResult struct {
	Value any `json:"value,omitempty"`
}

// NotificationEvent is the raw form of a notification as handed over by the
// transport, before the client has matched it to a registered type.
type NotificationEvent struct {
	Node     NodeID `json:"node"`
	Type     string `json:"type"`
	Sequence int64  `json:"sequence"`
	Data     any    `json:"data,omitempty"`
}

// NodeRequest is the params object of describe/subscribe/unsubscribe calls.
type NodeRequest struct {
	Node NodeID `json:"node"`
}

// DescribeResult is the answer to a describe call.
type DescribeResult struct {
	Descriptors []CapabilityDescriptor `json:"descriptors"`
}
