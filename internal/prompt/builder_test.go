package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunny-chatter/internal/llm"
	"bunny-chatter/internal/persona"
	"bunny-chatter/internal/session"
)

func testRecord() session.Record {
	return session.Record{
		UserKey:    "42",
		Nickname:   "Alice",
		AccountTag: "baby72773",
		History: []session.Turn{
			{Role: session.RoleUser, Content: "hi"},
			{Role: session.RoleAssistant, Content: "hello!"},
			{Role: session.RoleUser, Content: "tell me a story"},
		},
	}
}

func TestBuild_HistoryThenDirective(t *testing.T) {
	b, err := NewBuilder(persona.Default().Directive)
	require.NoError(t, err)

	msgs, err := b.Build(testRecord())
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, llm.Message{Role: "user", Content: "hi"}, msgs[0])
	assert.Equal(t, llm.Message{Role: "assistant", Content: "hello!"}, msgs[1])
	assert.Equal(t, llm.Message{Role: "user", Content: "tell me a story"}, msgs[2])

	last := msgs[3]
	assert.Equal(t, llm.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "named Alice")
	assert.Contains(t, last.Content, "the user is baby72773")
}

func TestBuild_EmptyHistory(t *testing.T) {
	b, err := NewBuilder("You are {{.Nickname}}")
	require.NoError(t, err)

	msgs, err := b.Build(session.Record{Nickname: "Bunny100"})
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{{Role: llm.RoleSystem, Content: "You are Bunny100"}}, msgs)
}

func TestBuild_IsPure(t *testing.T) {
	b, err := NewBuilder(persona.Default().Directive)
	require.NoError(t, err)
	rec := testRecord()

	first, err := b.Build(rec)
	require.NoError(t, err)
	second, err := b.Build(rec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, rec.History, 3, "building must not touch the record")
}

func TestBuild_ResultDoesNotAliasHistory(t *testing.T) {
	b, err := NewBuilder("d")
	require.NoError(t, err)
	rec := testRecord()

	msgs, err := b.Build(rec)
	require.NoError(t, err)
	msgs[0].Content = "changed"
	assert.Equal(t, "hi", rec.History[0].Content)
}

func TestNewBuilder_RejectsBadTemplate(t *testing.T) {
	_, err := NewBuilder("{{.Nickname")
	assert.Error(t, err)
}

func TestBuild_UnknownFieldFails(t *testing.T) {
	b, err := NewBuilder("{{.Mood}}")
	require.NoError(t, err)
	_, err = b.Build(testRecord())
	assert.Error(t, err)
}
