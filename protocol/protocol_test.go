package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationTypeIdentity(t *testing.T) {
	a := NewOperation("logLines", TypeObject, TypeInt, TypeInt)
	b := NewOperation("logLines", TypeObject, TypeInt, TypeInt)
	c := NewOperation("logLines", TypeObject, TypeInt)
	d := NewOperation("logLines", TypeString, TypeInt, TypeInt)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.Equal(c), "parameter signature is part of identity")
	assert.False(t, a.Equal(d), "return type is part of identity")
	assert.Equal(t, []string{"int", "int"}, a.Signature())
	assert.Equal(t, "logLines(int, int) object", a.String())
}

func TestOperationKeyNoParams(t *testing.T) {
	op := NewOperation("current", TypeObject)
	assert.Equal(t, "current()object", op.Key())
	assert.Empty(t, op.Signature())
}

func TestNotificationTypeIsComparable(t *testing.T) {
	listeners := map[NotificationType]int{
		NewNotificationType("state.change", TypeObject): 1,
	}
	_, ok := listeners[NewNotificationType("state.change", TypeObject)]
	assert.True(t, ok)
	_, ok = listeners[NewNotificationType("state.change", TypeString)]
	assert.False(t, ok)
}

func TestParseHandlerVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    HandlerVersion
		wantErr bool
	}{
		{in: "1.0", want: HandlerVersion{1, 0}},
		{in: "2.7", want: HandlerVersion{2, 7}},
		{in: "v3.1", want: HandlerVersion{3, 1}},
		{in: "4", want: HandlerVersion{4, 0}},
		{in: "", wantErr: true},
		{in: "x.1", wantErr: true},
		{in: "1.y", wantErr: true},
		{in: "-1.0", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseHandlerVersion(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHandlerVersionCompatibility(t *testing.T) {
	assert.True(t, NewHandlerVersion(1, 0).Compatible(NewHandlerVersion(1, 3)))
	assert.False(t, NewHandlerVersion(1, 0).Compatible(NewHandlerVersion(2, 0)))
}

func TestCapabilityDescriptorJSON(t *testing.T) {
	in := []CapabilityDescriptor{Named("state", NewHandlerVersion(1, 2)), Vanilla("org.example.Greeter")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"kind":"named","name":"state","version":"1.2"},
		{"kind":"vanilla","name":"org.example.Greeter","version":"0.0"}
	]`, string(data))

	var out []CapabilityDescriptor
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestCapabilityDescriptorValidate(t *testing.T) {
	assert.NoError(t, Named("state", NewHandlerVersion(1, 0)).Validate())
	assert.Error(t, CapabilityDescriptor{Kind: DescriptorNamed}.Validate())
	assert.Error(t, CapabilityDescriptor{Kind: "bogus", Name: "x"}.Validate())
}

func TestMessageClassification(t *testing.T) {
	var resp Message
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"a1","result":{"value":3}}`), &resp))
	assert.True(t, resp.IsResponse())
	assert.False(t, resp.IsNotification())

	var note Message
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"node.event","params":{"node":"x","type":"t"}}`), &note))
	assert.True(t, note.IsNotification())
	assert.False(t, note.IsResponse())

	var event NotificationEvent
	require.NoError(t, UnmarshalPayload(note.Params, &event))
	assert.Equal(t, NodeID("x"), event.Node)
	assert.Equal(t, "t", event.Type)
}

func TestRequestSerializationOmitsNilParams(t *testing.T) {
	data, err := json.Marshal(NewRequest("r1", MethodSubscribe, nil))
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "2.0", parsed["jsonrpc"])
	assert.Equal(t, "r1", parsed["id"])
	_, hasParams := parsed["params"]
	assert.False(t, hasParams, "params field should be omitted when nil")
}

func TestUnmarshalPayloadRejectsNull(t *testing.T) {
	var target map[string]any
	assert.Error(t, UnmarshalPayload(nil, &target))
	assert.Error(t, UnmarshalPayload(json.RawMessage("null"), &target))
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("disk full")
	remote := NewRemoteError("job1", "run", "IOError", "disk full", cause)
	wrapped := fmt.Errorf("calling: %w", remote)

	assert.True(t, IsRemoteError(wrapped))
	assert.False(t, IsTransportError(wrapped))
	assert.ErrorIs(t, wrapped, ErrRemoteFailure)
	assert.ErrorIs(t, wrapped, cause)

	transport := NewTransportError("invoke", "job1", errors.New("connection reset"))
	assert.True(t, IsTransportError(transport))
	assert.False(t, IsRemoteError(transport))
	assert.ErrorIs(t, transport, ErrTransportFailure)
	assert.Contains(t, transport.Error(), "job1")
}
