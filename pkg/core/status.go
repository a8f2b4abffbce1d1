// Package core holds the response shape, status taxonomy and typed failures shared by every
// transport (bus, HTTP, websocket).
package core

import "net/http"

// StatusCode is the closed set of outcomes a contract call can produce.
type StatusCode string

const (
	StatusSuccess          StatusCode = "success"
	StatusError            StatusCode = "error"
	StatusNotFound         StatusCode = "not found"
	StatusNotPermitted     StatusCode = "not permitted"
	StatusValidationError  StatusCode = "validation error"
	StatusNotAuthenticated StatusCode = "not authenticated"
)

// StatusCodes lists every member of the taxonomy in declaration order.
var StatusCodes = []StatusCode{
	StatusSuccess,
	StatusError,
	StatusNotFound,
	StatusNotPermitted,
	StatusValidationError,
	StatusNotAuthenticated,
}

// InternalErrorMessage is the only text ever sent for internal failures.
const InternalErrorMessage = "We are unable to process your request, please try again later"

// Valid reports whether s is part of the taxonomy.
func (s StatusCode) Valid() bool {
	for _, c := range StatusCodes {
		if c == s {
			return true
		}
	}
	return false
}

// HTTPStatus maps a status code to the HTTP status a gateway replies with.
func HTTPStatus(s StatusCode) int {
	switch s {
	case StatusSuccess:
		return http.StatusOK
	case StatusNotFound:
		return http.StatusNotFound
	case StatusNotPermitted:
		return http.StatusMethodNotAllowed
	case StatusValidationError:
		return http.StatusBadRequest
	case StatusNotAuthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Response is the reply of every contract call. Success carries Data, every other status
// carries Message.
type Response struct {
	StatusCode StatusCode  `json:"statusCode"`
	Data       interface{} `json:"data,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Success builds a success response around data.
func Success(data interface{}) *Response {
	return &Response{StatusCode: StatusSuccess, Data: data}
}

// Fail builds a non-success response.
func Fail(code StatusCode, message string) *Response {
	return &Response{StatusCode: code, Message: message}
}

// OK reports whether the response is a success.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == StatusSuccess
}

// Body returns what an outer transport writes: the data for success-like replies,
// otherwise the message.
func (r *Response) Body() interface{} {
	if r.Data != nil {
		return r.Data
	}
	return r.Message
}
