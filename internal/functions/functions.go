// Package functions invokes named serverless functions, either on a remote
// functions endpoint or from a local registry.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Document generation functions triggered after a protest is created.
const (
	GenerateForm50162         = "generate-form-50-162"
	GenerateServicesAgreement = "generate-services-agreement"
)

// DocumentRequest is the payload of both document generation functions.
type DocumentRequest struct {
	UserID     string `json:"userId"`
	PropertyID string `json:"propertyId"`
}

// ErrUnknownFunction is returned when no function is registered under a name.
var ErrUnknownFunction = errors.New("functions: unknown function")

// Invoker calls a function by name with a JSON payload.
type Invoker interface {
	Invoke(ctx context.Context, name string, payload any) (json.RawMessage, error)
}

// Error is a non-2xx response from a remote function.
type Error struct {
	Function string
	Status   int
	Body     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("functions: %s returned %d: %s", e.Function, e.Status, e.Body)
}

// HTTPInvoker posts payloads to {BaseURL}/functions/v1/{name} with a bearer key.
type HTTPInvoker struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewHTTPInvoker creates an HTTPInvoker. A nil client gets a 30s timeout.
func NewHTTPInvoker(baseURL, key string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPInvoker{baseURL: strings.TrimRight(baseURL, "/"), key: key, client: client}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, name string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("functions: encoding %s payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/functions/v1/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("functions: building %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.key != "" {
		req.Header.Set("Authorization", "Bearer "+h.key)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("functions: invoking %s: %w", name, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("functions: reading %s response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Function: name, Status: resp.StatusCode, Body: strings.TrimSpace(string(out))}
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return json.RawMessage("null"), nil
	}
	return out, nil
}

// Func is a locally registered function.
type Func func(ctx context.Context, payload json.RawMessage) (any, error)

// Registry is an Invoker running functions in-process.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces the function called name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Names lists the registered functions.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Invoke(ctx context.Context, name string, payload any) (json.RawMessage, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	in, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("functions: encoding %s payload: %w", name, err)
	}
	res, err := fn(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("functions: %s: %w", name, err)
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("functions: encoding %s result: %w", name, err)
	}
	return out, nil
}
