// Package prompt turns a session record into the message list sent to the
// completion service.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"bunny-chatter/internal/llm"
	"bunny-chatter/internal/persona"
	"bunny-chatter/internal/session"
)

// Builder renders the history followed by one trailing system directive.
// It holds no mutable state and does no I/O, so Build is pure.
type Builder struct {
	directive *template.Template
}

func NewBuilder(directiveTemplate string) (*Builder, error) {
	tmpl, err := template.New("directive").Option("missingkey=error").Parse(directiveTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse directive template: %w", err)
	}
	return &Builder{directive: tmpl}, nil
}

// Build returns rec.History in order plus the directive rendered from the
// record's nickname and account tag. The directive is never part of the
// stored history.
func (b *Builder) Build(rec session.Record) ([]llm.Message, error) {
	directive, err := b.renderDirective(rec)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(rec.History)+1)
	for _, turn := range rec.History {
		msgs = append(msgs, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleSystem, Content: directive}), nil
}

func (b *Builder) renderDirective(rec session.Record) (string, error) {
	var sb strings.Builder
	if err := b.directive.Execute(&sb, persona.Identity{Nickname: rec.Nickname, AccountTag: rec.AccountTag}); err != nil {
		return "", fmt.Errorf("render directive: %w", err)
	}
	return sb.String(), nil
}
