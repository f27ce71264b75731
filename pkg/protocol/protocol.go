// Package protocol defines the wire-level request/response documents.
// Every document is framed as a single BSON
// value whose own leading 4-byte little-endian length prefix is the
// frame length; bson.Raw already carries that prefix, so encoding one of
// these structs with bson.Marshal produces a ready-to-send frame.
package protocol

import (
	"github.com/rustbase/rustbase/pkg/protoerr"
)

// HeaderType identifies the kind of request being sent. Only Query and
// Ping are served; PreRequest and Cluster are recognized but rejected
// with InternalError.
type HeaderType string

const (
	TypeQuery      HeaderType = "Query"
	TypePing       HeaderType = "Ping"
	TypePreRequest HeaderType = "PreRequest"
	TypeCluster    HeaderType = "Cluster"
)

// RequestHeader is the `header` field of a request document.
type RequestHeader struct {
	Type HeaderType `bson:"type"`
	// Auth is an opaque credentials passthrough, reserved for future use;
	// the SCRAM handshake itself runs over dedicated handshake documents,
	// not through this field.
	Auth []byte `bson:"auth,omitempty"`
}

// QueryBody is the `body` field of a Query request.
type QueryBody struct {
	Query    string `bson:"query"`
	Database string `bson:"database"`
}

// Request is one request document read off the wire.
type Request struct {
	Header RequestHeader `bson:"header"`
	Body   interface{}   `bson:"body,omitempty"`
}

// ResponseHeader is the `header` field of a response document.
type ResponseHeader struct {
	Status   protoerr.StatusCode `bson:"status"`
	Messages []string            `bson:"messages,omitempty"`
	IsError  bool                `bson:"is_error"`
}

// Response is one response document written back to the wire.
type Response struct {
	Header ResponseHeader `bson:"header"`
	Body   interface{}    `bson:"body,omitempty"`
}

// OK builds a successful response carrying body.
func OK(status protoerr.StatusCode, body interface{}) Response {
	return Response{
		Header: ResponseHeader{Status: status, IsError: false},
		Body:   body,
	}
}

// Err builds an error response from a protoerr.Error, closing over its
// status and diagnostic message. The response carries no body.
func Err(e *protoerr.Error) Response {
	return Response{
		Header: ResponseHeader{
			Status:   e.Status,
			Messages: []string{e.Message},
			IsError:  true,
		},
	}
}

// HandshakeMessage carries one leg of the SCRAM exchange. client-first
// and client-final requests populate Payload; server-first and
// server-final responses populate Payload on success, and a failed step
// is answered with Done and Error set and no Payload.
type HandshakeMessage struct {
	Payload string `bson:"payload"`
	Done    bool   `bson:"done"`
	Error   string `bson:"error,omitempty"`
}
