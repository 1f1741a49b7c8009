package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
)

func collect(t *testing.T, s modelpkg.Stream) []modelpkg.Frame {
	t.Helper()
	defer s.Close()
	var frames []modelpkg.Frame
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		frames = append(frames, f)
	}
}

func tokens(frames []modelpkg.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		if f.Kind == modelpkg.FrameToken {
			b.WriteString(f.Token)
		}
	}
	return b.String()
}

func TestChatCompletionStream_SendsStreamingRequest(t *testing.T) {
	var got map[string]any
	var auth, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "deepseek-chat", 5*time.Second)
	stream, err := client.ChatCompletionStream(context.Background(), []ctxpkg.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, stream)

	if auth != "Bearer test-key" {
		t.Errorf("unexpected auth header: %q", auth)
	}
	if accept != "text/event-stream" {
		t.Errorf("unexpected accept header: %q", accept)
	}
	if got["model"] != "deepseek-chat" || got["stream"] != true {
		t.Errorf("unexpected request: %v", got)
	}
	if got["temperature"] != 0.7 || got["max_tokens"] != float64(4096) {
		t.Errorf("unexpected sampling params: %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", got["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("unexpected first message: %v", first)
	}
}

func TestChatCompletionStream_DecodesTokensAcrossChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		parts := []string{
			`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n\n",
			`data: {"choices":[{"delta":{"content":"Hi"}}]}` + "\n\n" + `data: {"choices":[{"del`,
			`ta":{"content":" there"}}]}` + "\n\n",
			": keep-alive\n\n",
			"data: [DONE]\n\n",
			`data: {"choices":[{"delta":{"content":"ignored"}}]}` + "\n\n",
		}
		for _, p := range parts {
			io.WriteString(w, p)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client := NewClient("k", server.URL, "m", 5*time.Second)
	stream, err := client.ChatCompletionStream(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	frames := collect(t, stream)

	if got := tokens(frames); got != "Hi there" {
		t.Fatalf("expected %q, got %q", "Hi there", got)
	}
	last := frames[len(frames)-1]
	if last.Kind != modelpkg.FrameDone {
		t.Fatalf("expected last frame done, got %v", last.Kind)
	}
}

func TestChatCompletionStream_MalformedFrameIsSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"a"}}]}`+"\n")
		io.WriteString(w, "data: {not json\n")
		io.WriteString(w, `data: {"error":{"message":"overloaded","type":"server_error"}}`+"\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"b"}}]}`)
	}))
	defer server.Close()

	client := NewClient("k", server.URL, "m", 5*time.Second)
	stream, err := client.ChatCompletionStream(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	frames := collect(t, stream)

	skips := 0
	for _, f := range frames {
		if f.Kind == modelpkg.FrameSkip {
			skips++
			if f.Err == nil {
				t.Error("skip frame must carry an error")
			}
		}
	}
	if skips != 2 {
		t.Fatalf("expected 2 skip frames, got %d", skips)
	}
	if got := tokens(frames); got != "ab" {
		t.Fatalf("expected stream to continue past bad frames, got %q", got)
	}
}

func TestChatCompletionStream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("Insufficient Balance"))
	}))
	defer server.Close()

	client := NewClient("k", server.URL, "m", 5*time.Second)
	_, err := client.ChatCompletionStream(context.Background(), nil)
	var statusErr *modelpkg.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusPaymentRequired || statusErr.Body != "Insufficient Balance" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
}

func TestChatCompletionStream_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient("k", url, "m", time.Second)
	_, err := client.ChatCompletionStream(context.Background(), nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	var statusErr *modelpkg.StatusError
	if errors.As(err, &statusErr) {
		t.Fatal("transport failure must not look like an upstream rejection")
	}
}

func TestDecodeLine(t *testing.T) {
	cases := []struct {
		line  string
		ok    bool
		kind  modelpkg.FrameKind
		token string
	}{
		{"", false, 0, ""},
		{"event: message\n", false, 0, ""},
		{": comment\n", false, 0, ""},
		{"data:\n", false, 0, ""},
		{"data: [DONE]\r\n", true, modelpkg.FrameDone, ""},
		{`data:{"choices":[{"delta":{"content":"x"}}]}`, true, modelpkg.FrameToken, "x"},
		{`data: {"choices":[]}`, true, modelpkg.FrameToken, ""},
		{`data: [1,2]`, true, modelpkg.FrameSkip, ""},
	}
	for _, c := range cases {
		f, ok := decodeLine([]byte(c.line))
		if ok != c.ok {
			t.Fatalf("line=%q ok=%v want %v", c.line, ok, c.ok)
		}
		if !ok {
			continue
		}
		if f.Kind != c.kind || f.Token != c.token {
			t.Fatalf("line=%q got kind=%v token=%q", c.line, f.Kind, f.Token)
		}
	}
}
