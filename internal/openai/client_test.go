package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestChat_SendsRequestAndReturnsContent(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	got, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, ChatOptions{Temperature: 0.1, MaxTokens: 50})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello there" {
		t.Errorf("content = %q, want %q", got, "hello there")
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["temperature"] != 0.1 {
		t.Errorf("temperature = %v", gotBody["temperature"])
	}
	if gotBody["max_tokens"] != float64(50) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	if _, ok := gotBody["response_format"]; ok {
		t.Error("response_format should be omitted when JSONMode is off")
	}
}

func TestChat_JSONModeSetsResponseFormat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{}"}}]}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	if _, err := c.Chat(context.Background(), "gpt-4o-mini", nil, ChatOptions{JSONMode: true}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	rf, ok := gotBody["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", gotBody["response_format"])
	}
}

func TestChat_SurfacesAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached for requests","type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil, ChatOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Rate limit reached") {
		t.Errorf("error = %q, want API message surfaced", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %q, want status code included", err)
	}
}

func TestChat_ErrorBodyWithOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil, ChatOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Incorrect API key") {
		t.Errorf("error = %q", err)
	}
}

func TestChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	if _, err := c.Chat(context.Background(), "gpt-4o-mini", nil, ChatOptions{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Return vectors out of order; the client must honor the index field.
		fmt.Fprint(w, `{"data":[
			{"index":1,"embedding":[0.2]},
			{"index":0,"embedding":[0.1]}
		]}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), "text-embedding-3-small", []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	want := [][]float32{{0.1}, {0.2}}
	if !reflect.DeepEqual(vecs, want) {
		t.Errorf("vectors = %v, want %v", vecs, want)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	c := New("sk-test", "http://unused.invalid")
	vecs, err := c.EmbedBatch(context.Background(), "text-embedding-3-small", nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("vectors = %v, want nil", vecs)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1]}]}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	if _, err := c.EmbedBatch(context.Background(), "m", []string{"a", "b"}); err == nil {
		t.Fatal("expected error for vector count mismatch")
	}
}

func TestEmbed_SingleText(t *testing.T) {
	var gotInput []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		gotInput, _ = body["input"].([]any)
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.5,0.25]}]}`)
	}))
	defer srv.Close()

	c := New("sk-test", srv.URL)
	vec, err := c.Embed(context.Background(), "text-embedding-3-small", "revenue growth")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{0.5, 0.25}) {
		t.Errorf("vector = %v", vec)
	}
	if len(gotInput) != 1 || gotInput[0] != "revenue growth" {
		t.Errorf("input = %v", gotInput)
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("sk-test", "http://example.com/v1/")
	if c.baseURL != "http://example.com/v1" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}
