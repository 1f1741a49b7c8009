package context

import (
	"fmt"
	"testing"
)

func conversation(n int) []Message {
	msgs := []Message{{Role: "system", Content: "sys"}}
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	return msgs
}

func TestWindowCompressor_KeepsSystemAndTail(t *testing.T) {
	c := &WindowCompressor{MaxPairs: 1}
	result := c.Compress(conversation(5))
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	if result[0].Role != "system" {
		t.Errorf("expected system first, got %+v", result[0])
	}
	if result[1].Content != "m3" || result[2].Content != "m4" {
		t.Errorf("unexpected tail: %+v", result[1:])
	}
}

func TestWindowCompressor_TruncationLaw(t *testing.T) {
	for k := 0; k <= 4; k++ {
		for n := 0; n <= 12; n++ {
			c := &WindowCompressor{MaxPairs: k}
			result := c.Compress(conversation(n))
			want := min(n, 2*k) + 1
			if len(result) != want {
				t.Fatalf("k=%d n=%d: expected %d messages, got %d", k, n, want, len(result))
			}
			if result[0].Role != "system" {
				t.Fatalf("k=%d n=%d: expected system first, got %+v", k, n, result[0])
			}
			if n > 0 && k > 0 && result[len(result)-1].Content != fmt.Sprintf("m%d", n-1) {
				t.Fatalf("k=%d n=%d: expected newest message last, got %+v", k, n, result[len(result)-1])
			}
		}
	}
}

func TestWindowCompressor_EmptyInput(t *testing.T) {
	c := &WindowCompressor{MaxPairs: 3}
	result := c.Compress(nil)
	if len(result) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(result))
	}
}

func TestWindowCompressor_NegativeActsAsZero(t *testing.T) {
	c := &WindowCompressor{MaxPairs: -2}
	result := c.Compress(conversation(4))
	if len(result) != 1 || result[0].Role != "system" {
		t.Fatalf("expected only system message, got %+v", result)
	}
}
