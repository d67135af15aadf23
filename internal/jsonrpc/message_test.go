package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MessageTypes(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		expectedType MessageType
		expectedKey  string
		method       string
	}{
		{
			name:         "Request",
			raw:          `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{}}}`,
			expectedType: MessageTypeRequest,
			expectedKey:  "1",
			method:       "initialize",
		},
		{
			name:         "Response",
			raw:          `{"jsonrpc":"2.0","id":1,"result":{"capabilities":{"tools":{}}}}`,
			expectedType: MessageTypeResponse,
			expectedKey:  "1",
		},
		{
			name:         "Notification",
			raw:          `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`,
			expectedType: MessageTypeNotification,
			expectedKey:  "",
			method:       "notifications/message",
		},
		{
			name:         "Error",
			raw:          `{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"Method not found"}}`,
			expectedType: MessageTypeError,
			expectedKey:  "7",
		},
		{
			name:         "StringID",
			raw:          `{"jsonrpc":"2.0","id":"abc-123","result":{}}`,
			expectedType: MessageTypeResponse,
			expectedKey:  "abc-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedType, msg.Type())
			assert.Equal(t, tt.expectedKey, msg.CorrelationKey())
			if tt.method != "" {
				assert.Equal(t, tt.method, msg.Method())
			}
		})
	}
}

func TestParse_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "MalformedJSON", input: `{"jsonrpc":"2.0","id":1,"method":"test"`},
		{name: "EmptyString", input: ""},
		{name: "PlainText", input: "not json at all"},
		{name: "WrongVersion", input: `{"jsonrpc":"1.0","id":1,"method":"test"}`},
		{name: "MissingVersion", input: `{"id":1,"method":"test"}`},
		{name: "NumberVersion", input: `{"jsonrpc":2.0,"id":1,"method":"test"}`},
		{name: "Undecidable", input: `{"jsonrpc":"2.0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.input))
			assert.Error(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestParse_ErrorDetails(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`))
	require.NoError(t, err)
	require.True(t, msg.IsError())
	require.NotNil(t, msg.ErrorInfo())
	assert.Equal(t, -32601, msg.ErrorInfo().Code)
	assert.Equal(t, "Method not found", msg.ErrorInfo().Message)

	var out map[string]interface{}
	assert.Error(t, msg.UnmarshalResult(&out))
}

func TestParse_UnmarshalResult(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"search","description":"Full text search"}]}}`))
	require.NoError(t, err)

	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	require.NoError(t, msg.UnmarshalResult(&result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "search", result.Tools[0].Name)
}

func TestEncodeRequest_RoundTrip(t *testing.T) {
	var gen IDGenerator
	id := gen.Next()

	data, err := EncodeRequest(id, "tools/call", map[string]interface{}{
		"name":      "search",
		"arguments": map[string]string{"query": "weather"},
	})
	require.NoError(t, err)
	require.Equal(t, byte('\n'), data[len(data)-1], "request lines must be newline terminated")

	var decoded struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Equal(t, "tools/call", decoded.Method)
	assert.Equal(t, KeyForID(id), CorrelationKey(decoded.ID))
	assert.NotEmpty(t, decoded.Params)
}

func TestEncodeNotification_OmitsID(t *testing.T) {
	data, err := EncodeNotification("notifications/initialized", nil)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, hasID := decoded["id"]
	assert.False(t, hasID)
	_, hasParams := decoded["params"]
	assert.False(t, hasParams)
}

func TestIDGenerator_Monotonic(t *testing.T) {
	var gen IDGenerator
	prev := gen.Next()
	for i := 0; i < 100; i++ {
		next := gen.Next()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestCorrelationKey_StringAndNumberAgree(t *testing.T) {
	fromNumber := CorrelationKey(json.RawMessage(`42`))
	fromString := CorrelationKey(json.RawMessage(`"42"`))
	assert.Equal(t, fromNumber, fromString)
}
