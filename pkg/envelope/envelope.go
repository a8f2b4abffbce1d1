// Package envelope encodes and decodes the call envelope and the response that travel as
// COMMS message payloads.
package envelope

import (
	"errors"
	"fmt"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
)

const logPrefix = "envelope:envelope"

// ErrMalformed is returned for payloads that are not a valid envelope or response.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the JSON body of a call: the contract name and its payload.
type Envelope struct {
	Name    string                 `json:"name"`
	Payload map[string]interface{} `json:"payload"`
}

// EncodeCall serializes a call for name. A nil payload is sent as an empty object.
func EncodeCall(name string, payload interface{}) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("%s - contract name is empty: %w", logPrefix, ErrMalformed)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	data, err := commsutil.EncodePayload(struct {
		Name    string      `json:"name"`
		Payload interface{} `json:"payload"`
	}{Name: name, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode call %s: %w", logPrefix, name, err)
	}
	return data, nil
}

// DecodeCall parses a call. It fails when data is not a JSON object, when name is missing,
// empty or not a string, and when payload is missing or not an object.
func DecodeCall(data []byte) (*Envelope, error) {
	var raw map[string]interface{}
	if err := commsutil.DecodePayload(data, &raw); err != nil {
		return nil, fmt.Errorf("%s - %v: %w", logPrefix, err, ErrMalformed)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s - envelope is null: %w", logPrefix, ErrMalformed)
	}

	name, ok := raw["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%s - name must be a non-empty string: %w", logPrefix, ErrMalformed)
	}
	payload, ok := raw["payload"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s - payload must be an object: %w", logPrefix, ErrMalformed)
	}

	return &Envelope{Name: name, Payload: payload}, nil
}

// EncodeResponse serializes a response.
func EncodeResponse(resp *core.Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("%s - response is nil: %w", logPrefix, ErrMalformed)
	}
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode response: %w", logPrefix, err)
	}
	return data, nil
}

// DecodeResponse parses a response. The statusCode must belong to the taxonomy.
func DecodeResponse(data []byte) (*core.Response, error) {
	var resp core.Response
	if err := commsutil.DecodePayload(data, &resp); err != nil {
		return nil, fmt.Errorf("%s - %v: %w", logPrefix, err, ErrMalformed)
	}
	if !resp.StatusCode.Valid() {
		return nil, fmt.Errorf("%s - unknown statusCode %q: %w", logPrefix, resp.StatusCode, ErrMalformed)
	}
	return &resp, nil
}
