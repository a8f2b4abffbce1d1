package commsutil

import "github.com/bytedance/sonic"

// api mirrors encoding/json behaviour but keeps numbers as json.Number so payloads survive a
// decode/encode cycle unchanged.
var api = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is well-formed JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}
