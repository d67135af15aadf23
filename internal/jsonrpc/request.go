package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// IDGenerator issues monotonically increasing request ids. Safe for
// concurrent use; a session holds one generator for its lifetime.
type IDGenerator struct {
	next atomic.Int64
}

// Next returns the next request id.
func (g *IDGenerator) Next() int64 {
	return g.next.Add(1)
}

// EncodeRequest serializes a JSON-RPC 2.0 request as a single line,
// newline terminated, ready for a stdio transport.
func EncodeRequest(id int64, method string, params interface{}) ([]byte, error) {
	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		envelope["params"] = params
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", method, err)
	}
	return append(data, '\n'), nil
}

// EncodeNotification serializes a JSON-RPC 2.0 notification as a single
// newline-terminated line. Notifications carry no id and expect no reply.
func EncodeNotification(method string, params interface{}) ([]byte, error) {
	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		envelope["params"] = params
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode notification %s: %w", method, err)
	}
	return append(data, '\n'), nil
}

// KeyForID returns the correlation key an in-flight request should be
// registered under before its encoded form is written.
func KeyForID(id int64) string {
	return strconv.FormatInt(id, 10)
}
