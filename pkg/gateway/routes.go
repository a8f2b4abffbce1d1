// Package gateway holds what the HTTP and websocket gateways share: route tables, request
// ids and the pool of callers that forward requests to dispatchers.
package gateway

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
)

const logPrefix = "gateway:routes"

const (
	minEventLength = 8
	maxEventLength = 128
)

// HTTPContract binds an HTTP method and path to a contract.
type HTTPContract struct {
	Method string `yaml:"method" json:"method"`
	URL    string `yaml:"url" json:"url"`
	Name   string `yaml:"name" json:"name"`
}

// HTTPRoute groups the HTTP contracts served by the dispatchers of one subject.
type HTTPRoute struct {
	Name      string         `yaml:"name" json:"name"`
	Contracts []HTTPContract `yaml:"contracts" json:"contracts"`
}

// WSContract binds an inbound websocket event to a contract and names the reply event.
type WSContract struct {
	EventIn  string `yaml:"event_in" json:"event_in"`
	EventOut string `yaml:"event_out" json:"event_out"`
	Name     string `yaml:"name" json:"name"`
}

// WSRoute groups the websocket contracts served by the dispatchers of one subject.
type WSRoute struct {
	Name      string       `yaml:"name" json:"name"`
	Contracts []WSContract `yaml:"contracts" json:"contracts"`
}

// Routes is the route file of a gateway.
type Routes struct {
	HTTP []HTTPRoute `yaml:"http" json:"http"`
	WS   []WSRoute   `yaml:"ws" json:"ws"`
}

// LoadRoutes reads a YAML (or JSON) route file and validates it.
func LoadRoutes(path string) (*Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, path, err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a route document.
func ParseRoutes(data []byte) (*Routes, error) {
	var r Routes
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s - failed to parse routes: %w", logPrefix, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks subjects, methods, paths and event names.
func (r *Routes) Validate() error {
	seen := make(map[string]bool)
	for _, route := range r.HTTP {
		if err := commsutil.ValidateSubject(route.Name); err != nil {
			return fmt.Errorf("%s - http route: %w", logPrefix, err)
		}
		for _, c := range route.Contracts {
			switch strings.ToUpper(c.Method) {
			case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
			default:
				return fmt.Errorf("%s - %s %s: method must be GET, POST, PUT or DELETE", logPrefix, c.Method, c.URL)
			}
			if !strings.HasPrefix(c.URL, "/") {
				return fmt.Errorf("%s - %s %s: url must start with /", logPrefix, c.Method, c.URL)
			}
			if c.Name == "" {
				return fmt.Errorf("%s - %s %s: contract name is empty", logPrefix, c.Method, c.URL)
			}
			key := strings.ToUpper(c.Method) + " " + c.URL
			if seen[key] {
				return fmt.Errorf("%s - %s is declared twice", logPrefix, key)
			}
			seen[key] = true
		}
	}

	events := make(map[string]bool)
	for _, route := range r.WS {
		if err := commsutil.ValidateSubject(route.Name); err != nil {
			return fmt.Errorf("%s - ws route: %w", logPrefix, err)
		}
		for _, c := range route.Contracts {
			if n := len(c.EventIn); n < minEventLength || n > maxEventLength {
				return fmt.Errorf("%s - event %q must be %d to %d characters", logPrefix, c.EventIn, minEventLength, maxEventLength)
			}
			if c.EventOut == "" || c.Name == "" {
				return fmt.Errorf("%s - event %q needs event_out and name", logPrefix, c.EventIn)
			}
			if events[c.EventIn] {
				return fmt.Errorf("%s - event %q is declared twice", logPrefix, c.EventIn)
			}
			events[c.EventIn] = true
		}
	}
	return nil
}

// Subjects returns every subject the routes forward to, sorted and without duplicates.
func (r *Routes) Subjects() []string {
	set := make(map[string]bool)
	for _, route := range r.HTTP {
		set[route.Name] = true
	}
	for _, route := range r.WS {
		set[route.Name] = true
	}
	subjects := make([]string, 0, len(set))
	for s := range set {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	return subjects
}

// ValidEvent reports whether name has an acceptable websocket event length.
func ValidEvent(name string) bool {
	return len(name) >= minEventLength && len(name) <= maxEventLength
}
