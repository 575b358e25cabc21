package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunny-chatter/internal/logging"
	"bunny-chatter/internal/session"
	"bunny-chatter/internal/storage"
)

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	store, err := storage.NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), map[string]session.Record{
		"42": {Nickname: "Bunny123", AccountTag: "baby72773", History: []session.Turn{
			{Role: session.RoleUser, Content: "hi"},
			{Role: session.RoleAssistant, Content: "hello"},
		}},
		"7": {Nickname: "Alice", AccountTag: "baby72773", History: []session.Turn{}},
	}))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func useStore(t *testing.T, path string) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("STORE_PATH", path)
}

func TestSessionsList(t *testing.T) {
	useStore(t, seedStore(t))

	out, err := execute(t, "sessions", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NICKNAME")
	assert.Regexp(t, `^42\s+Bunny123\s+baby72773\s+2$`, lines[1])
	assert.Regexp(t, `^7\s+Alice\s+baby72773\s+0$`, lines[2])
}

func TestSessionsShow(t *testing.T) {
	useStore(t, seedStore(t))

	out, err := execute(t, "sessions", "show", "42")
	require.NoError(t, err)
	assert.Equal(t, "42 (Bunny123, baby72773)\nuser: hi\nassistant: hello\n", out)

	_, err = execute(t, "sessions", "show", "999")
	assert.Error(t, err)
}

func TestSessionsResetWritesThrough(t *testing.T) {
	path := seedStore(t)
	useStore(t, path)

	out, err := execute(t, "sessions", "reset", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	store, err := storage.NewFileStore(path)
	require.NoError(t, err)
	records, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records["42"].History)
	assert.Equal(t, "Bunny123", records["42"].Nickname)

	_, err = execute(t, "sessions", "reset", "999")
	assert.Error(t, err)
}

func TestSessionsWithSQLite(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "bot.db"))

	out, err := execute(t, "sessions", "list")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1, "header only")
}

func TestInvalidConfigFailsEarly(t *testing.T) {
	t.Setenv("STORE_DRIVER", "tape")
	_, err := execute(t, "sessions", "list")
	assert.Error(t, err)
}

func TestRunRequiresCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestMissingEnvFileIsLogged(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	missing := filepath.Join(t.TempDir(), "absent.env")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--env-file", missing, "--log-level", "warn", "version"})
	require.NoError(t, cmd.Execute())

	assert.True(t, strings.HasPrefix(stdout.String(), "bunny-chatter "), stdout.String())
	assert.Contains(t, stderr.String(), `"level":"warn"`)
	assert.Contains(t, stderr.String(), ".env file not loaded")
	assert.Contains(t, stderr.String(), missing)
}

func TestFileStoreLogsItsPath(t *testing.T) {
	path := seedStore(t)
	t.Setenv("LOG_FORMAT", "json")
	useStore(t, path)

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "info", "sessions", "list"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stderr.String(), "using file session store")
	assert.Contains(t, stderr.String(), path)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "bunny-chatter dev"), out)
}

type captureTransport struct {
	mu   sync.Mutex
	sent map[int64][]string
	err  error
}

func (c *captureTransport) SendText(_ context.Context, chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = make(map[int64][]string)
	}
	c.sent[chatID] = append(c.sent[chatID], text)
	return c.err
}

func (c *captureTransport) SendTyping(context.Context, int64) error { return nil }

func TestDigestReport(t *testing.T) {
	rec, err := storage.NewFileRecorder(filepath.Join(t.TempDir(), "interactions.jsonl"))
	require.NoError(t, err)
	require.NoError(t, rec.AppendInteraction(storage.Event{
		Timestamp: time.Now().UTC(), UserKey: "42", UserMessage: "hi", AssistantResponse: "hello",
	}))

	tr := &captureTransport{}
	require.NoError(t, digestReport(rec, tr, 0, logging.Nop())(context.Background()))
	assert.Empty(t, tr.sent, "no admin, nothing sent")

	require.NoError(t, digestReport(rec, tr, 99, logging.Nop())(context.Background()))
	require.Len(t, tr.sent[99], 1)
	assert.Contains(t, tr.sent[99][0], "Messages: 1")

	var logs bytes.Buffer
	require.NoError(t, digestReport(rec, tr, 0, logging.New(&logs, "debug"))(context.Background()))
	assert.Contains(t, logs.String(), "daily digest details")
	assert.Contains(t, logs.String(), "total_messages")

	tr.err = errors.New("chat not found")
	assert.Error(t, digestReport(rec, tr, 99, logging.Nop())(context.Background()))
}
