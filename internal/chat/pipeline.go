// Package chat turns inbound transport events into replies: it keeps the
// session up to date, asks the completion service for the next message and
// delivers it with the persona's pacing and decorations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bunny-chatter/internal/llm"
	"bunny-chatter/internal/logging"
	"bunny-chatter/internal/metrics"
	"bunny-chatter/internal/persona"
	"bunny-chatter/internal/session"
	"bunny-chatter/internal/storage"
)

// Sessions is the part of session.Registry the pipeline depends on.
type Sessions interface {
	GetOrCreate(ctx context.Context, key, suggestedNickname string) (session.Record, error)
	Get(key string) (session.Record, bool)
	AppendTurn(ctx context.Context, key string, role session.Role, content string) error
	DiscardLastTurn(ctx context.Context, key string, want session.Turn) (bool, error)
	ResetHistory(ctx context.Context, key string) error
}

type PromptBuilder interface {
	Build(rec session.Record) ([]llm.Message, error)
}

// Settings are the tunables of one reply cycle.
type Settings struct {
	MaxTokens         int
	Temperature       float32
	CompletionTimeout time.Duration
	ExtraProbability  float64
	DelayMin          time.Duration
	DelayMax          time.Duration
}

type Deps struct {
	Sessions  Sessions
	Prompts   PromptBuilder
	LLM       llm.Client
	Transport Transport
	Persona   persona.Persona

	// Optional.
	Recorder storage.Recorder
	Metrics  *metrics.Metrics
	Log      *logging.Logger
	Rand     Rand
	Sleep    SleepFunc
}

// Pipeline handles inbound events. Events of one user run strictly in the
// order they were submitted; events of different users run concurrently.
type Pipeline struct {
	Deps
	settings Settings
	seq      *sequencer
	wg       sync.WaitGroup
}

func New(deps Deps, settings Settings) *Pipeline {
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.Rand == nil {
		deps.Rand = globalRand{}
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	return &Pipeline{Deps: deps, settings: settings, seq: newSequencer()}
}

// Submit queues ev behind earlier events of the same user and returns
// immediately. The work is detached from ctx cancellation so that a reply
// already in flight is still recorded and delivered during shutdown.
func (p *Pipeline) Submit(ctx context.Context, ev Event) {
	wait, leave := p.seq.enter(ev.UserKey)
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer leave()
		defer func() {
			if r := recover(); r != nil {
				p.Log.Error().Str("user", ev.UserKey).Interface("panic", r).Msg("event handler panicked")
			}
		}()
		if wait != nil {
			<-wait
		}
		if err := p.process(ctx, ev); err != nil {
			p.Log.Error().Err(err).Str("user", ev.UserKey).Msg("event failed")
		}
	}()
}

// Handle processes ev synchronously, still ordered after any submitted
// events of the same user.
func (p *Pipeline) Handle(ctx context.Context, ev Event) error {
	wait, leave := p.seq.enter(ev.UserKey)
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			// Hold our place until the predecessor finishes so later
			// events still run after it.
			go func() {
				<-wait
				leave()
			}()
			return ctx.Err()
		}
	}
	defer leave()
	return p.process(ctx, ev)
}

// Wait blocks until every submitted event has been handled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) process(ctx context.Context, ev Event) error {
	log := p.Log.With("event_id", uuid.NewString()).With("user", ev.UserKey)
	if ev.Command != "" {
		p.Metrics.Event("command")
		return p.handleCommand(ctx, ev, log)
	}
	if ev.IsBot {
		p.Metrics.Event("ignored")
		log.Debug().Msg("dropping message from bot account")
		return nil
	}
	p.Metrics.Event("chat")
	return p.handleChat(ctx, ev, log)
}

func (p *Pipeline) handleChat(ctx context.Context, ev Event, log *logging.Logger) error {
	log.Info().Int("chars", len(ev.Text)).Msg("incoming message")

	if _, err := p.Sessions.GetOrCreate(ctx, ev.UserKey, ev.DisplayName); err != nil && !p.storeDegraded(err, log) {
		p.send(ctx, ev.ChatID, p.Persona.Apology, log)
		return fmt.Errorf("resolve session: %w", err)
	}

	userTurn := session.Turn{Role: session.RoleUser, Content: ev.Text}
	if err := p.Sessions.AppendTurn(ctx, ev.UserKey, userTurn.Role, userTurn.Content); err != nil && !p.storeDegraded(err, log) {
		p.send(ctx, ev.ChatID, p.Persona.Apology, log)
		return fmt.Errorf("record user turn: %w", err)
	}

	rec, ok := p.Sessions.Get(ev.UserKey)
	if !ok {
		p.send(ctx, ev.ChatID, p.Persona.Apology, log)
		return fmt.Errorf("build prompt: %w: %s", session.ErrUnknownUser, ev.UserKey)
	}
	msgs, err := p.Prompts.Build(rec)
	if err != nil {
		p.fail(ctx, ev, userTurn, err, log)
		return nil
	}

	resp, err := p.complete(ctx, msgs)
	if err != nil {
		p.fail(ctx, ev, userTurn, err, log)
		return nil
	}
	log.Info().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.PromptTokens).
		Int("completion_tokens", resp.CompletionTokens).
		Msg("completion received")

	if err := p.Sessions.AppendTurn(ctx, ev.UserKey, session.RoleAssistant, resp.Content); err != nil {
		if !p.storeDegraded(err, log) {
			log.Error().Err(err).Msg("failed to record assistant turn")
		}
	}
	p.record(storage.Event{
		UserKey:           ev.UserKey,
		UserMessage:       ev.Text,
		AssistantResponse: resp.Content,
		Model:             resp.Model,
		TotalTokens:       resp.TotalTokens,
	}, log)

	p.deliver(ctx, ev.ChatID, resp.Content, log)
	return nil
}

func (p *Pipeline) complete(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, p.settings.CompletionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.generate(cctx, msgs)
	p.Metrics.Completion(err == nil, time.Since(start))
	if err != nil {
		var ce *llm.CompletionError
		if !errors.As(err, &ce) {
			err = &llm.CompletionError{Provider: "unknown", Err: err}
		}
		return llm.Response{}, err
	}
	return resp, nil
}

// generate calls the client and turns a panic into a CompletionError so the
// cycle fails like any other completion error.
func (p *Pipeline) generate(ctx context.Context, msgs []llm.Message) (resp llm.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &llm.CompletionError{Provider: "unknown", Err: fmt.Errorf("client panicked: %v", r)}
		}
	}()
	return p.LLM.Generate(ctx, msgs, llm.Options{
		MaxTokens:   p.settings.MaxTokens,
		Temperature: p.settings.Temperature,
	})
}

// fail rolls back the user turn of a cycle that produced no reply and sends
// the apology. The cause is only logged.
func (p *Pipeline) fail(ctx context.Context, ev Event, userTurn session.Turn, cause error, log *logging.Logger) {
	log.Error().Err(cause).Msg("reply generation failed")

	if _, err := p.Sessions.DiscardLastTurn(ctx, ev.UserKey, userTurn); err != nil && !p.storeDegraded(err, log) {
		log.Error().Err(err).Msg("failed to discard user turn")
	}
	p.record(storage.Event{UserKey: ev.UserKey, UserMessage: ev.Text, Failed: true}, log)
	p.send(ctx, ev.ChatID, p.Persona.Apology, log)
}

// deliver shows the typing indicator, waits a human-looking moment, sends
// the decorated reply and sometimes an extra playful message.
func (p *Pipeline) deliver(ctx context.Context, chatID int64, reply string, log *logging.Logger) {
	if err := p.Transport.SendTyping(ctx, chatID); err != nil {
		log.Warn().Err(err).Msg("failed to send typing indicator")
	}
	if err := p.Sleep(ctx, p.typingDelay()); err != nil {
		log.Debug().Err(err).Msg("typing delay cut short")
	}

	p.send(ctx, chatID, reply+" "+pick(p.Rand, p.Persona.Emojis), log)

	if p.Rand.Float64() < p.settings.ExtraProbability {
		extra := pick(p.Rand, p.Persona.Extras)
		if strings.Contains(extra, persona.EmojiPlaceholder) {
			extra = strings.ReplaceAll(extra, persona.EmojiPlaceholder, pick(p.Rand, p.Persona.Emojis))
		}
		p.send(ctx, chatID, extra, log)
	}
	log.Info().Msg("reply delivered")
}

func (p *Pipeline) typingDelay() time.Duration {
	lo, hi := p.settings.DelayMin, p.settings.DelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.Rand.Float64()*float64(hi-lo))
}

func (p *Pipeline) send(ctx context.Context, chatID int64, text string, log *logging.Logger) {
	if err := p.Transport.SendText(ctx, chatID, text); err != nil {
		p.Metrics.SendError()
		log.Error().Err(err).Msg("failed to send message")
	}
}

func (p *Pipeline) record(ev storage.Event, log *logging.Logger) {
	if p.Recorder == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	if err := p.Recorder.AppendInteraction(ev); err != nil {
		log.Warn().Err(err).Msg("failed to append interaction log")
	}
}

// storeDegraded reports whether err only means the store could not be
// written. Such errors are logged and the cycle continues on the in-memory
// state.
func (p *Pipeline) storeDegraded(err error, log *logging.Logger) bool {
	if !session.IsPersistence(err) {
		return false
	}
	p.Metrics.PersistenceError()
	log.Warn().Err(err).Msg("session store unavailable; continuing in memory")
	return true
}
