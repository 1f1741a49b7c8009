// Package dummy provides scripted stand-ins for the chat transport and the
// completion API so the relay can run end to end without network access.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the list is exhausted:
//
//	ok            no updates / "dummy-ok" reply / successful send
//	msg:<text>    an incoming message, or a reply streamed as |-separated tokens
//	msgb64:<b64>  like msg with base64 text (single token for the provider)
//	err:<class>   a failure; a numeric class is an HTTP status for the provider
//	sleep:<ms>    wait, then behave like ok
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
)

// SkipToken inside a msg: reply produces an undecodable frame.
const SkipToken = "?"

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		found := false
		for _, kind := range []string{"err", "sleep", "msg", "msgb64"} {
			if arg, ok := strings.CutPrefix(token, kind+":"); ok {
				actions = append(actions, action{kind: kind, arg: arg})
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleepCtx(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent is one message the dummy commander delivered or edited.
type Sent struct {
	ChatID    int64
	MessageID int64
	Text      string
	Edit      bool
}

// Commander is a scripted chat transport. Polls follow pollScript; sends and
// edits follow sendScript and are recorded in the outbox.
type Commander struct {
	mu        sync.Mutex
	poll      *scriptRunner
	send      *scriptRunner
	updateID  int64
	messageID int64
	outbox    []Sent
	// From is the sender attached to scripted messages.
	From cmdpkg.User
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{
		poll:     poll,
		send:     send,
		updateID: 1,
		From:     cmdpkg.User{ID: 1, Username: "dummy", FirstName: "Dummy"},
	}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	var text string
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleepCtx(ctx, a.arg)
	case "msg":
		text = a.arg
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		text = string(raw)
	default:
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateID < offset {
		c.updateID = offset - 1
	}
	c.updateID++
	c.messageID++
	from := c.From
	return []cmdpkg.Update{
		{
			UpdateID: c.updateID,
			Message: &cmdpkg.Message{
				MessageID: c.messageID,
				From:      &from,
				Chat:      cmdpkg.Chat{ID: from.ID},
				Text:      &text,
				Date:      time.Now().Unix(),
			},
		},
	}, nil
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	if err := c.sendAction(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageID++
	c.outbox = append(c.outbox, Sent{ChatID: chatID, MessageID: c.messageID, Text: text})
	return c.messageID, nil
}

func (c *Commander) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	if err := c.sendAction(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbox = append(c.outbox, Sent{ChatID: chatID, MessageID: messageID, Text: text, Edit: true})
	return nil
}

// Outbox returns a copy of everything sent or edited so far.
func (c *Commander) Outbox() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.outbox))
	copy(out, c.outbox)
	return out
}

func (c *Commander) sendAction(ctx context.Context) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return sleepCtx(ctx, a.arg)
	}
	return nil
}

// Provider is a scripted streaming completion API.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	// Delay is waited before each streamed frame.
	Delay time.Duration
	calls [][]ctxpkg.Message
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

// Calls returns the conversations the provider was asked to complete.
func (p *Provider) Calls() [][]ctxpkg.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]ctxpkg.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Provider) ChatCompletionStream(ctx context.Context, messages []ctxpkg.Message) (modelpkg.Stream, error) {
	p.mu.Lock()
	a := p.script.next()
	p.calls = append(p.calls, append([]ctxpkg.Message(nil), messages...))
	p.mu.Unlock()

	switch a.kind {
	case "err":
		if status, err := strconv.Atoi(a.arg); err == nil {
			return nil, &modelpkg.StatusError{StatusCode: status, Body: "dummy provider rejected request"}
		}
		return nil, fmt.Errorf("dummy provider model=%s error class=%s", p.model, emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := sleepCtx(ctx, a.arg); err != nil {
			return nil, err
		}
		return p.stream(ctx, []string{"dummy-after-sleep"}), nil
	case "msg":
		return p.stream(ctx, strings.Split(a.arg, "|")), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return p.stream(ctx, []string{string(raw)}), nil
	default:
		return p.stream(ctx, []string{"dummy-ok"}), nil
	}
}

func (p *Provider) stream(ctx context.Context, tokens []string) *tokenStream {
	return &tokenStream{ctx: ctx, tokens: tokens, delay: p.Delay}
}

type tokenStream struct {
	ctx    context.Context
	tokens []string
	i      int
	delay  time.Duration
	done   bool
}

func (s *tokenStream) Next() (modelpkg.Frame, error) {
	if s.done {
		return modelpkg.Frame{}, io.EOF
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return modelpkg.Frame{}, s.ctx.Err()
		}
	}
	if s.i >= len(s.tokens) {
		s.done = true
		return modelpkg.Frame{Kind: modelpkg.FrameDone}, nil
	}
	tok := s.tokens[s.i]
	s.i++
	if tok == SkipToken {
		return modelpkg.Frame{Kind: modelpkg.FrameSkip, Err: fmt.Errorf("dummy malformed frame"), Raw: "{"}, nil
	}
	return modelpkg.Frame{Kind: modelpkg.FrameToken, Token: tok}, nil
}

func (s *tokenStream) Close() error {
	s.done = true
	return nil
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
