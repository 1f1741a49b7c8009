package dummy

import (
	"context"
	"errors"
	"io"
	"testing"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
)

func drain(t *testing.T, s modelpkg.Stream) []modelpkg.Frame {
	t.Helper()
	defer s.Close()
	var frames []modelpkg.Frame
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, f)
	}
}

func TestNewProvider_InvalidScript(t *testing.T) {
	_, err := NewProvider("x", "boom")
	if err == nil {
		t.Fatal("expected parse error for invalid script")
	}
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("x", "err:provider_api,err:402,msg:Hi| there")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	msgs := []ctxpkg.Message{{Role: "user", Content: "hi"}}

	_, err = p.ChatCompletionStream(ctx, msgs)
	var statusErr *modelpkg.StatusError
	if err == nil || errors.As(err, &statusErr) {
		t.Fatalf("expected plain error, got %v", err)
	}

	_, err = p.ChatCompletionStream(ctx, msgs)
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 402 {
		t.Fatalf("expected status 402, got %v", err)
	}

	stream, err := p.ChatCompletionStream(ctx, msgs)
	if err != nil {
		t.Fatal(err)
	}
	frames := drain(t, stream)
	if len(frames) != 3 || frames[0].Token != "Hi" || frames[1].Token != " there" || frames[2].Kind != modelpkg.FrameDone {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if len(p.Calls()) != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", len(p.Calls()))
	}
}

func TestProvider_SkipToken(t *testing.T) {
	p, err := NewProvider("x", "msg:a|?|b")
	if err != nil {
		t.Fatal(err)
	}
	stream, err := p.ChatCompletionStream(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	frames := drain(t, stream)
	if frames[1].Kind != modelpkg.FrameSkip || frames[2].Token != "b" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestProvider_MsgB64Action(t *testing.T) {
	p, err := NewProvider("x", "msgb64:aGVsbG8=") // "hello"
	if err != nil {
		t.Fatal(err)
	}
	stream, err := p.ChatCompletionStream(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	frames := drain(t, stream)
	if frames[0].Token != "hello" {
		t.Fatalf("expected hello, got %+v", frames)
	}
}

func TestCommander_MsgAction(t *testing.T) {
	c, err := NewCommander("msg:test-msg", "ok")
	if err != nil {
		t.Fatal(err)
	}
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text == nil {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	m := updates[0].Message
	if *m.Text != "test-msg" || m.From == nil || m.From.ID != 1 || m.Chat.ID != 1 {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestCommander_RecordsOutbox(t *testing.T) {
	c, err := NewCommander("ok", "ok,err:flood,ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	id, err := c.SendMessage(ctx, 5, "Hi")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.EditMessageText(ctx, 5, id, "Hi there"); err == nil {
		t.Fatal("expected scripted send error")
	}
	if err := c.EditMessageText(ctx, 5, id, "Hi there"); err != nil {
		t.Fatal(err)
	}
	out := c.Outbox()
	if len(out) != 2 {
		t.Fatalf("expected 2 outbox entries, got %+v", out)
	}
	if out[0].Edit || out[0].Text != "Hi" || !out[1].Edit || out[1].MessageID != id || out[1].Text != "Hi there" {
		t.Fatalf("unexpected outbox: %+v", out)
	}
}
