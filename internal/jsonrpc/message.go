package jsonrpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of JSON-RPC message
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Message represents a parsed JSON-RPC 2.0 message received from a server.
// The raw payload is retained so callers can re-serialize or inspect fields
// the envelope does not model.
type Message struct {
	msgType   MessageType
	method    string
	payload   json.RawMessage
	result    json.RawMessage
	timestamp time.Time
	requestID json.RawMessage
	errorInfo *ErrorInfo
}

// ErrorInfo contains details about JSON-RPC errors
type ErrorInfo struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Parse creates a message by parsing one line of raw JSON-RPC data.
func Parse(rawData []byte) (*Message, error) {
	var baseMsg struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method,omitempty"`
		ID      json.RawMessage `json:"id,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *ErrorInfo      `json:"error,omitempty"`
	}

	if err := json.Unmarshal(rawData, &baseMsg); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}

	if baseMsg.JSONRPC != "2.0" {
		return nil, fmt.Errorf("unsupported JSON-RPC version: %s", baseMsg.JSONRPC)
	}

	var msgType MessageType
	var method string
	var errorInfo *ErrorInfo

	switch {
	case baseMsg.Error != nil:
		msgType = MessageTypeError
		errorInfo = baseMsg.Error
	case baseMsg.Method != "":
		if baseMsg.ID != nil {
			msgType = MessageTypeRequest
		} else {
			msgType = MessageTypeNotification
		}
		method = baseMsg.Method
	case baseMsg.Result != nil || baseMsg.ID != nil:
		msgType = MessageTypeResponse
	default:
		return nil, fmt.Errorf("cannot determine JSON-RPC message type")
	}

	return &Message{
		msgType:   msgType,
		method:    method,
		payload:   json.RawMessage(rawData),
		result:    baseMsg.Result,
		timestamp: time.Now(),
		requestID: baseMsg.ID,
		errorInfo: errorInfo,
	}, nil
}

// Type returns the message type
func (m *Message) Type() MessageType {
	return m.msgType
}

// Method returns the JSON-RPC method name
func (m *Message) Method() string {
	return m.method
}

// Payload returns the raw JSON payload
func (m *Message) Payload() json.RawMessage {
	return append(json.RawMessage(nil), m.payload...) // Return copy
}

// Result returns the raw result field for response messages.
func (m *Message) Result() json.RawMessage {
	return append(json.RawMessage(nil), m.result...)
}

// Timestamp returns when the message was parsed
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}

// RequestID returns the JSON-RPC request ID (for responses and errors)
func (m *Message) RequestID() json.RawMessage {
	return append(json.RawMessage(nil), m.requestID...)
}

// CorrelationKey returns the request ID in canonical string form, used to
// pair responses with pending requests. Numeric and string IDs that encode
// the same value yield the same key.
func (m *Message) CorrelationKey() string {
	return CorrelationKey(m.requestID)
}

// CorrelationKey canonicalizes a raw JSON-RPC id. A string id "7" and a
// numeric id 7 map to the same key so servers that echo ids back in either
// form still correlate.
func CorrelationKey(id json.RawMessage) string {
	if len(id) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(id, &asString); err == nil {
		return asString
	}
	return string(id)
}

// ErrorInfo returns error details for error messages
func (m *Message) ErrorInfo() *ErrorInfo {
	return m.errorInfo
}

// IsRequest returns true if this is a request message
func (m *Message) IsRequest() bool {
	return m.msgType == MessageTypeRequest
}

// IsResponse returns true if this is a response message
func (m *Message) IsResponse() bool {
	return m.msgType == MessageTypeResponse
}

// IsNotification returns true if this is a notification message
func (m *Message) IsNotification() bool {
	return m.msgType == MessageTypeNotification
}

// IsError returns true if this is an error message
func (m *Message) IsError() bool {
	return m.msgType == MessageTypeError
}

// UnmarshalResult decodes the result field into out.
func (m *Message) UnmarshalResult(out interface{}) error {
	if m.msgType == MessageTypeError {
		return fmt.Errorf("rpc error %d: %s", m.errorInfo.Code, m.errorInfo.Message)
	}
	if len(m.result) == 0 {
		return fmt.Errorf("message has no result")
	}
	return json.Unmarshal(m.result, out)
}

// String returns a human-readable representation of the message
func (m *Message) String() string {
	if m.method != "" {
		return fmt.Sprintf("[%s] %s %s", m.timestamp.Format("15:04:05.000"), m.msgType, m.method)
	}
	return fmt.Sprintf("[%s] %s", m.timestamp.Format("15:04:05.000"), m.msgType)
}

// Size returns the size of the message payload in bytes
func (m *Message) Size() int {
	return len(m.payload)
}
