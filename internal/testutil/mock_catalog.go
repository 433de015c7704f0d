// Package testutil provides testing utilities for the SensCritique catalog client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines a canned response returned instead of a collection page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRequest is a decoded GraphQL page request as seen by the mock.
type MockRequest struct {
	OperationName string
	Username      string
	Offset        int
	Limit         int
	Order         string
	Header        http.Header
}

// MockProduct describes one product of the mock collection.
type MockProduct struct {
	ID            int64
	Universe      int
	Title         string
	OriginalTitle string
	DateRelease   string
	Year          int

	// Role is the raw creator field ("directors", "authors", ...).
	Role   string
	People []string

	// Rating of 0 is sent as null.
	Rating   float64
	DateDone string
	IsDone   bool
	IsWished bool

	// NoUniverse sends universe as null.
	NoUniverse bool
}

// MockCatalog is a configurable mock of the GraphQL collection API.
// Pages are served from the configured products by offset and limit.
type MockCatalog struct {
	server *httptest.Server
	mu     sync.RWMutex

	products []MockProduct
	total    int
	avatar   string

	// override replaces every page response when set.
	override *MockResponse

	// pageHook runs before a page is served; returning true means it wrote the response.
	pageHook func(w http.ResponseWriter, req MockRequest) bool

	requests []MockRequest
}

// NewMockCatalog creates a new mock catalog server with an empty collection.
func NewMockCatalog() *MockCatalog {
	mock := &MockCatalog{}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"bad request body"}`, http.StatusBadRequest)
			return
		}

		req := MockRequest{
			OperationName: body.OperationName,
			Username:      asString(body.Variables["username"]),
			Offset:        asInt(body.Variables["offset"]),
			Limit:         asInt(body.Variables["limit"]),
			Order:         asString(body.Variables["order"]),
			Header:        r.Header.Clone(),
		}

		mock.mu.Lock()
		mock.requests = append(mock.requests, req)
		override := mock.override
		hook := mock.pageHook
		mock.mu.Unlock()

		if hook != nil && hook(w, req) {
			return
		}

		if override != nil {
			writeResponse(w, *override)
			return
		}

		mock.servePage(w, req)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetProducts configures the collection. A negative total reports len(products).
func (m *MockCatalog) SetProducts(total int, products ...MockProduct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if total < 0 {
		total = len(products)
	}
	m.total = total
	m.products = products
}

// SetAvatar configures the viewer avatar URL.
func (m *MockCatalog) SetAvatar(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avatar = url
}

// SetResponse makes every request return resp.
func (m *MockCatalog) SetResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override = &resp
}

// SetPageHook installs a hook that may take over individual page requests.
func (m *MockCatalog) SetPageHook(hook func(w http.ResponseWriter, req MockRequest) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageHook = hook
}

// Requests returns a copy of the recorded requests.
func (m *MockCatalog) Requests() []MockRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCatalog) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (m *MockCatalog) servePage(w http.ResponseWriter, req MockRequest) {
	m.mu.RLock()
	start := min(max(req.Offset, 0), len(m.products))
	end := min(start+max(req.Limit, 0), len(m.products))
	page := make([]map[string]any, 0, end-start)
	for _, p := range m.products[start:end] {
		page = append(page, p.raw())
	}
	user := map[string]any{
		"medias": map[string]any{"avatar": m.avatar},
		"collection": map[string]any{
			"total":    m.total,
			"products": page,
		},
	}
	m.mu.RUnlock()

	body, err := json.Marshal(map[string]any{"data": map[string]any{"user": user}})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeResponse(w, NewPageResponse(string(body)))
}

func (p MockProduct) raw() map[string]any {
	out := map[string]any{
		"id":            p.ID,
		"title":         p.Title,
		"originalTitle": nullable(p.OriginalTitle),
		"dateRelease":   nullable(p.DateRelease),
		"url":           fmt.Sprintf("/oeuvre/%d", p.ID),
		"medias":        map[string]any{"picture": fmt.Sprintf("https://media.example/%d.jpg", p.ID)},
	}
	if p.NoUniverse {
		out["universe"] = nil
	} else {
		out["universe"] = p.Universe
	}
	if p.Year != 0 {
		out["yearOfProduction"] = p.Year
	}
	if p.Role != "" {
		people := make([]map[string]any, 0, len(p.People))
		for _, name := range p.People {
			people = append(people, map[string]any{"name": name})
		}
		out[p.Role] = people
	}

	infos := map[string]any{
		"rating":   nil,
		"dateDone": nullable(p.DateDone),
		"isDone":   p.IsDone,
		"isWished": p.IsWished,
	}
	if p.Rating != 0 {
		infos["rating"] = p.Rating
	}
	out["otherUserInfos"] = infos
	return out
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// WriteResponse writes resp from inside a page hook.
func WriteResponse(w http.ResponseWriter, resp MockResponse) {
	writeResponse(w, resp)
}

// NewPageResponse creates a standard 200 OK JSON response.
func NewPageResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewUserNullResponse is what the API returns for a private or unknown profile.
func NewUserNullResponse() MockResponse {
	return NewPageResponse(`{"data":{"user":null}}`)
}

// NewGraphQLErrorResponse creates a response carrying a GraphQL error list.
func NewGraphQLErrorResponse(message, code string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"errors": []map[string]any{
			{"message": message, "extensions": map[string]any{"code": code}},
		},
	})
	return NewPageResponse(string(body))
}

// NewServerErrorResponse creates a 502 Bad Gateway response, as a failing relay returns.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadGateway,
		Body:       `<html>bad gateway</html>`,
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt reads a JSON number decoded into any.
func asInt(v any) int {
	f, _ := v.(float64)
	return int(f)
}
