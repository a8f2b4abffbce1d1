package core

// Protocol names the front-end transport a request entered through.
type Protocol string

const (
	ProtocolWS      Protocol = "WS"
	ProtocolGRPC    Protocol = "GRPC"
	ProtocolHTTP    Protocol = "HTTP"
	ProtocolJSONRPC Protocol = "JSONRPC"
)

// Metadata describes the origin of a request forwarded by a gateway.
type Metadata struct {
	ID       string   `json:"id"`
	Token    string   `json:"token,omitempty"`
	Protocol Protocol `json:"protocol"`
	IP       string   `json:"ip"`
}

// Request is the payload gateways send to contracts.
type Request struct {
	Params   interface{} `json:"params"`
	MetaData Metadata    `json:"metaData"`
}

// Paginate is the conventional shape for paged contract results.
type Paginate[T any] struct {
	Data      []T `json:"data"`
	PageCount int `json:"pageCount"`
	ItemCount int `json:"itemCount"`
}

// KeyValue is a plain string pair.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
