// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the JSON-RPC protocol version string carried by every encoded
// message.
const Version = "2.0"

// A Request is a request or notification message, either inbound (received
// from a peer, dispatched to a registered Handler) or outbound (built by
// Client.Call/Notify before serialization).
type Request struct {
	id     Id
	hasID  bool
	method string
	params json.RawMessage
}

// NewRequest constructs a Request with the given id, method and already
// encoded parameters. Use NewNotification to build a notification.
func NewRequest(id Id, method string, params json.RawMessage) *Request {
	return &Request{id: id, hasID: true, method: method, params: params}
}

// NewNotification constructs a Request with no id.
func NewNotification(method string, params json.RawMessage) *Request {
	return &Request{method: method, params: params}
}

// IsNotification reports whether r is a notification (has no id).
func (r *Request) IsNotification() bool { return !r.hasID }

// ID returns the request id. It is the zero Id if r is a notification.
func (r *Request) ID() Id { return r.id }

// Method reports the method name for the request.
func (r *Request) Method() string { return r.method }

// HasParams reports whether the request carries non-empty parameters.
func (r *Request) HasParams() bool { return len(r.params) != 0 }

// ParamString returns the encoded request parameters of r as a string, or ""
// if r has no parameters.
func (r *Request) ParamString() string { return string(r.params) }

// UnmarshalParams decodes the request parameters of r into v. If r has empty
// parameters, it returns nil without modifying v. If the parameters are
// invalid, it returns a *HandlerError with the InvalidParams code that wraps
// the decoding error.
//
// By default, unknown object keys are ignored. If v implements
// DisallowUnknownFields (see StrictFields), unknown fields are rejected.
func (r *Request) UnmarshalParams(v any) error {
	if len(r.params) == 0 {
		return nil
	}
	if _, ok := v.(strictFielder); ok {
		dec := json.NewDecoder(bytes.NewReader(r.params))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return (&HandlerError{kind: handlerInvalidParams}).withCause(err)
		}
		return nil
	}
	if err := json.Unmarshal(r.params, v); err != nil {
		return (&HandlerError{kind: handlerInvalidParams}).withCause(err)
	}
	return nil
}

// withCause attaches an underlying cause to h for diagnostic purposes while
// preserving its code via ErrCode.
func (h *HandlerError) withCause(err error) *HandlerError {
	cp := *h
	cp.cause = err
	return &cp
}

// A Response is a response message: either a successful result or an error,
// correlated to a Request by id.
type Response struct {
	id     Id
	hasID  bool
	err    *ErrorData
	result json.RawMessage
}

// ID returns the response id. It is the zero Id (hasID false) for a bare
// error response whose id could not be identified by the peer.
func (r *Response) ID() Id { return r.id }

// WithID returns a copy of r with its id replaced by id, for bridges that
// virtualize the id space of requests forwarded to a shared engine.
func (r *Response) WithID(id Id) *Response {
	cp := *r
	cp.id = id
	cp.hasID = true
	return &cp
}

// Error returns the error carried by r, or nil if r is a success.
func (r *Response) Error() *ErrorData { return r.err }

// ResultString returns the encoded result of r, or "" if r is an error.
func (r *Response) ResultString() string { return string(r.result) }

// UnmarshalResult decodes the result of r into v. If r carries an error, it
// returns that error unchanged and leaves v untouched.
func (r *Response) UnmarshalResult(v any) error {
	if r.err != nil {
		return r.err
	}
	return json.Unmarshal(r.result, v)
}

// A Message is the decoded envelope of one top-level JSON-RPC frame: a
// singleton request/notification, a singleton response, a bare error, or a
// batch of either requests or responses.
type Message interface {
	isMessage()
}

// RequestMessage wraps a single inbound request or notification.
type RequestMessage struct{ Request *Request }

// ResponseMessage wraps a single inbound response.
type ResponseMessage struct{ Response *Response }

// ErrorMessage wraps a top-level error object that carried no id — a
// server-initiated diagnostic the engine cannot route to a specific call.
type ErrorMessage struct{ Error *ErrorData }

// BatchRequestMessage wraps a batch of requests and/or notifications.
type BatchRequestMessage struct{ Requests []*Request }

// BatchResponseMessage wraps a batch of responses.
type BatchResponseMessage struct{ Responses []*Response }

func (RequestMessage) isMessage()       {}
func (ResponseMessage) isMessage()      {}
func (ErrorMessage) isMessage()         {}
func (BatchRequestMessage) isMessage()  {}
func (BatchResponseMessage) isMessage() {}

// Decode parses a single text frame into a Message. On failure it returns a
// nil Message and an *ErrorData built from the §4.1 decode-failure table,
// ready to be wrapped in an outbound error Response and sent back to the
// peer (the caller is responsible for sending it; Decode never does I/O).
func Decode(data []byte) (Message, *ErrorData) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, parseErrorTruncated()
	}
	if trimmed[0] == '[' {
		return decodeArray(trimmed)
	}
	obj, jerr := decodeObjectFields(trimmed)
	if jerr != nil {
		return nil, jerr
	}
	return classifyObject(obj)
}

// decodeObjectFields unmarshals data into a field map, translating a JSON
// syntax or shape failure into the appropriate §4.1 error.
func decodeObjectFields(data []byte) (map[string]json.RawMessage, *ErrorData) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return nil, errInvalidRequestShape // valid JSON, not an object
		}
		return nil, classifyJSONError(err, data)
	}
	return obj, nil
}

// classifyObject applies the §4.1 discrimination rules, in order, to a
// single decoded JSON object.
func classifyObject(obj map[string]json.RawMessage) (Message, *ErrorData) {
	idRaw, hasIDField := obj["id"]
	_, hasResult := obj["result"]
	errRaw, hasError := obj["error"]
	methodRaw, hasMethod := obj["method"]

	id, idPresent, idErr := idFromRaw(idRaw)
	if hasIDField && idErr != nil {
		return nil, errInvalidRequestShape
	}

	switch {
	case hasIDField && (hasResult || hasError):
		rsp, err := buildResponse(obj, id, idPresent, hasError, errRaw)
		if err != nil {
			return nil, err
		}
		return ResponseMessage{Response: rsp}, nil

	case hasMethod:
		req, err := buildRequest(obj, methodRaw, id, idPresent)
		if err != nil {
			return nil, err
		}
		return RequestMessage{Request: req}, nil

	case hasError && !hasIDField:
		var ed ErrorData
		if err := json.Unmarshal(errRaw, &ed); err != nil {
			return nil, errInvalidRequestShape
		}
		return ErrorMessage{Error: &ed}, nil

	default:
		return nil, errInvalidRequestShape
	}
}

func buildResponse(obj map[string]json.RawMessage, id Id, idPresent bool, hasError bool, errRaw json.RawMessage) (*Response, *ErrorData) {
	r := &Response{id: id, hasID: idPresent}
	if hasError {
		var ed ErrorData
		if err := json.Unmarshal(errRaw, &ed); err != nil {
			return nil, errInvalidRequestShape
		}
		r.err = &ed
		return r, nil
	}
	r.result = obj["result"]
	return r, nil
}

func buildRequest(obj map[string]json.RawMessage, methodRaw json.RawMessage, id Id, idPresent bool) (*Request, *ErrorData) {
	var method string
	if err := json.Unmarshal(methodRaw, &method); err != nil {
		return nil, errInvalidRequestShape
	}
	params := obj["params"]
	if isNull(params) {
		params = nil
	}
	if fb := firstByte(params); fb != 0 && fb != '[' && fb != '{' {
		return nil, errInvalidRequestShape
	}
	return &Request{id: id, hasID: idPresent, method: method, params: params}, nil
}

// decodeArray parses a JSON array as a batch of requests or of responses.
// Mixed element kinds are a protocol violation (§4.1 rule 4).
func decodeArray(data []byte) (Message, *ErrorData) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, classifyJSONError(err, data)
	}
	if len(raws) == 0 {
		return nil, errInvalidRequestShape // empty batch; §9 open question
	}

	var requests []*Request
	var responses []*Response
	for _, raw := range raws {
		obj, jerr := decodeObjectFields(raw)
		if jerr != nil {
			return nil, jerr
		}
		msg, derr := classifyObject(obj)
		if derr != nil {
			return nil, derr
		}
		switch m := msg.(type) {
		case RequestMessage:
			if responses != nil {
				return nil, errInvalidRequestShape // mixed kinds
			}
			requests = append(requests, m.Request)
		case ResponseMessage:
			if requests != nil {
				return nil, errInvalidRequestShape // mixed kinds
			}
			responses = append(responses, m.Response)
		default:
			return nil, errInvalidRequestShape // bare errors cannot appear in a batch
		}
	}
	if requests != nil {
		return BatchRequestMessage{Requests: requests}, nil
	}
	return BatchResponseMessage{Responses: responses}, nil
}

// parseErrorTruncated builds the §4.1 "Truncated input" error.
func parseErrorTruncated() *ErrorData {
	return (&ErrorData{Code: ParseError, Message: "Parse error"}).WithData("Unexpected End of Input")
}

// parseErrorByte builds the §4.1 "Byte-level parse error" error.
func parseErrorByte(b byte) *ErrorData {
	return (&ErrorData{Code: ParseError, Message: "Parse error"}).WithData(fmt.Sprintf("Unexpected Byte: %q", string(b)))
}

// parseErrorSequence builds the §4.1 "Invalid escape/unicode sequence" error.
func parseErrorSequence(seq string) *ErrorData {
	return (&ErrorData{Code: ParseError, Message: "Parse error"}).WithData(fmt.Sprintf("Unexpected Sequence: %q", seq))
}

// classifyJSONError maps a json.Unmarshal error against raw input into one
// of the three ParseError shapes in the §4.1 table.
func classifyJSONError(err error, raw []byte) *ErrorData {
	se, ok := err.(*json.SyntaxError)
	if !ok {
		return parseErrorTruncated()
	}
	msg := se.Error()
	switch {
	case strings.Contains(msg, "unexpected end"):
		return parseErrorTruncated()
	case strings.Contains(msg, "escape") || strings.Contains(msg, "unicode"):
		start := int(se.Offset) - 6
		if start < 0 {
			start = 0
		}
		end := int(se.Offset)
		if end > len(raw) {
			end = len(raw)
		}
		return parseErrorSequence(string(raw[start:end]))
	default:
		off := int(se.Offset) - 1
		if off < 0 {
			off = 0
		}
		if off >= len(raw) {
			return parseErrorTruncated()
		}
		return parseErrorByte(raw[off])
	}
}

// toJSON renders a Request to its JSON wire form.
func (r *Request) toJSON() ([]byte, error) {
	var sb bytes.Buffer
	sb.WriteString(`{"jsonrpc":"2.0"`)
	if r.hasID {
		idBits, err := r.id.MarshalJSON()
		if err != nil {
			return nil, err
		}
		sb.WriteString(`,"id":`)
		sb.Write(idBits)
	}
	m, err := json.Marshal(r.method)
	if err != nil {
		return nil, err
	}
	sb.WriteString(`,"method":`)
	sb.Write(m)
	if len(r.params) != 0 {
		sb.WriteString(`,"params":`)
		sb.Write(r.params)
	}
	sb.WriteByte('}')
	return sb.Bytes(), nil
}

// toJSON renders a Response to its JSON wire form. Per §4.1, the id of
// an id-less error response is emitted as JSON null.
func (r *Response) toJSON() ([]byte, error) {
	var sb bytes.Buffer
	sb.WriteString(`{"jsonrpc":"2.0","id":`)
	if r.hasID {
		idBits, err := r.id.MarshalJSON()
		if err != nil {
			return nil, err
		}
		sb.Write(idBits)
	} else {
		sb.WriteString("null")
	}
	if r.err != nil {
		e, err := json.Marshal(r.err)
		if err != nil {
			return nil, err
		}
		sb.WriteString(`,"error":`)
		sb.Write(e)
	} else {
		sb.WriteString(`,"result":`)
		if len(r.result) == 0 {
			sb.WriteString("null")
		} else {
			sb.Write(r.result)
		}
	}
	sb.WriteByte('}')
	return sb.Bytes(), nil
}

func errorMessageJSON(e *ErrorData) ([]byte, error) {
	bits, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return []byte(`{"jsonrpc":"2.0","id":null,"error":` + string(bits) + `}`), nil
}

// Encode renders m into the bytes that should be sent to the peer.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case RequestMessage:
		return v.Request.toJSON()
	case ResponseMessage:
		return v.Response.toJSON()
	case ErrorMessage:
		return errorMessageJSON(v.Error)
	case BatchRequestMessage:
		return encodeBatch(len(v.Requests), func(i int) ([]byte, error) { return v.Requests[i].toJSON() })
	case BatchResponseMessage:
		return encodeBatch(len(v.Responses), func(i int) ([]byte, error) { return v.Responses[i].toJSON() })
	default:
		return nil, fmt.Errorf("rpcengine: unknown message type %T", m)
	}
}

func encodeBatch(n int, elem func(int) ([]byte, error)) ([]byte, error) {
	var sb bytes.Buffer
	sb.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		bits, err := elem(i)
		if err != nil {
			return nil, err
		}
		sb.Write(bits)
	}
	sb.WriteByte(']')
	return sb.Bytes(), nil
}

// isNull reports whether msg is exactly the JSON "null" value.
func isNull(msg json.RawMessage) bool {
	return len(msg) == 4 && msg[0] == 'n' && msg[1] == 'u' && msg[2] == 'l' && msg[3] == 'l'
}

// firstByte returns the first non-whitespace byte of data, or 0 if there is none.
func firstByte(data []byte) byte {
	clean := bytes.TrimSpace(data)
	if len(clean) == 0 {
		return 0
	}
	return clean[0]
}

// strictFielder is an optional interface that can be implemented by a type to
// reject unknown fields when unmarshaling from JSON. If a type does not
// implement this interface, unknown fields are ignored.
type strictFielder interface {
	DisallowUnknownFields()
}

// StrictFields wraps a value v to require unknown fields to be rejected when
// unmarshaling from JSON.
func StrictFields(v any) any { return &strict{v: v} }

type strict struct{ v any }

func (s *strict) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s.v)
}

func (s *strict) DisallowUnknownFields() {}
