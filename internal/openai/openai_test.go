package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/lehigh-university-libraries/captioner/internal/providers"
)

func TestCaption(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4-turbo",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "cat, sofa, indoor"}}]
		}`))
	}))
	defer server.Close()

	p := New("sk-test", server.URL+"/v1/", option.WithMaxRetries(0))
	text, err := p.Caption(context.Background(), providers.Config{
		SystemPrompt: "system",
		Prompt:       "caption this",
		Image:        []byte("img"),
		MimeType:     "image/png",
		MaxTokens:    300,
	})
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if text != "cat, sofa, indoor" {
		t.Errorf("text = %q", text)
	}

	if body["model"] != DefaultModel {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != float64(300) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	messages, _ := body["messages"].([]interface{})
	if len(messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(messages))
	}
	user, _ := messages[1].(map[string]interface{})
	content, _ := user["content"].([]interface{})
	if len(content) != 2 {
		t.Fatalf("expected text and image parts, got %v", user["content"])
	}
	image, _ := content[1].(map[string]interface{})
	imageURL, _ := image["image_url"].(map[string]interface{})
	url, _ := imageURL["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %q", url)
	}
}

func TestCaptionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := New("bad", server.URL+"/v1/", option.WithMaxRetries(0)).Caption(context.Background(), providers.Config{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}
