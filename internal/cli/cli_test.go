package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/services/auth"
)

func TestClientParsesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"PLAYER_NOT_FOUND","message":"player not found"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")
	err := c.Get("/api/v1/players/ghost/stats", &PlayerStats{})
	require.Error(t, err)
	assert.Equal(t, "player not found (PLAYER_NOT_FOUND)", err.Error())
}

func TestClientDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/leaderboard", r.URL.Path)
		_, _ = w.Write([]byte(`{"entries":[{"username":"amy","display_name":"Amy","score":900,"level":4}],"stale":false}`))
	}))
	defer srv.Close()

	var lb Leaderboard
	require.NoError(t, NewClient(srv.URL, "").Get("/api/v1/leaderboard", &lb))
	require.Len(t, lb.Entries, 1)
	assert.Equal(t, 900, lb.Entries[0].Score)
}

func TestOutputText(t *testing.T) {
	best := 42
	tests := []struct {
		name string
		data any
		want []string
	}{
		{
			name: "health",
			data: HealthResult{Status: "ok", Store: "ok", Sessions: 3},
			want: []string{"Status: ok", "Sessions: 3"},
		},
		{
			name: "empty leaderboard",
			data: Leaderboard{},
			want: []string{"No scores yet"},
		},
		{
			name: "leaderboard",
			data: Leaderboard{Entries: []LeaderboardEntry{{Username: "amy", Score: 900, Level: 4}}, Stale: true},
			want: []string{"RANK", "amy", "900", "(stale"},
		},
		{
			name: "stats",
			data: PlayerStats{Username: "amy", DisplayName: "Amy", BestScore: 900, TotalPlayTime: 90, BestTime: &best, Achievements: []string{"welcome", "first_game"}},
			want: []string{"Player: Amy (amy)", "Play Time: 1m30s", "Best Time: 42s", "welcome, first_game"},
		},
		{
			name: "achievements",
			data: Achievements{Username: "amy", Unlocked: 1, Total: 2, Achievements: []Achievement{
				{Name: "Welcome", Unlocked: true, Progress: 1},
				{Name: "Veteran", Progress: 0.3},
			}},
			want: []string{"1/2", "[x] Welcome", "[ ] Veteran", "30%"},
		},
		{
			name: "full energy hides countdown",
			data: Energy{Amount: 100, Cap: 100},
			want: []string{"Energy: 100/100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newOutputTo("text", &buf).Print(tt.data)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	newOutputTo("json", &buf).Print(Energy{Amount: 90, Cap: 100, SecondsUntilNextUnit: 120})

	var got Energy
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 90, got.Amount)
}

func TestParseInput(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		line    string
		typ     string
		payload string
		wantErr bool
	}{
		{line: "   ", typ: ""},
		{line: "hello there", typ: "chat", payload: `{"message":"hello there"}`},
		{line: "/ping", typ: "heartbeat", payload: `{"sent_at":1704110400000}`},
		{line: "/spend", typ: "spend_energy", payload: `{"cost":10}`},
		{line: "/spend 5", typ: "spend_energy", payload: `{"cost":5}`},
		{line: "/spend x", wantErr: true},
		{line: "/score 500 3 42 true", typ: "submit_score", payload: `{"elapsed_time":42,"level":3,"score":500,"won":true}`},
		{line: "/score 500 3", wantErr: true},
		{line: "/score 500 3 42 maybe", wantErr: true},
		{line: "/dance", wantErr: true},
	}

	for _, tt := range tests {
		f, err := parseInput(tt.line, now)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseInput(%q) expected error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseInput(%q) unexpected error: %v", tt.line, err)
			continue
		}
		if tt.typ == "" {
			if f != nil {
				t.Errorf("parseInput(%q) = %+v, want nil", tt.line, f)
			}
			continue
		}
		if f.Type != tt.typ || string(f.Payload) != tt.payload {
			t.Errorf("parseInput(%q) = %s %s, want %s %s", tt.line, f.Type, f.Payload, tt.typ, tt.payload)
		}
	}
}

func TestReadSSE(t *testing.T) {
	stream := "retry: 3000\n\nevent: connected\ndata: {}\n\n: keepalive\n\nevent: chat\ndata: line one\ndata: line two\n\n"

	var got []string
	err := readSSE(strings.NewReader(stream), func(event, data string) {
		got = append(got, event+"="+data)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"connected={}", "chat=line one\nline two"}, got)
}

func TestRunSessionJoinsAndSends(t *testing.T) {
	received := make(chan Frame, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			received <- f
			if f.Type == "join" {
				_ = conn.WriteJSON(Frame{Type: "sync", Payload: json.RawMessage(`{"username":"amy"}`)})
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inR, inW := io.Pipe()
	defer func() { _ = inW.Close() }()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- runSession(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "tok", inR, newOutputTo("text", out), true)
	}()

	join := <-received
	assert.Equal(t, "join", join.Type)
	assert.JSONEq(t, `{"token":"tok"}`, string(join.Payload))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"event":"sync"`)
	}, 2*time.Second, 10*time.Millisecond)

	_, err := inW.Write([]byte("gg\n"))
	require.NoError(t, err)
	chat := <-received
	assert.Equal(t, "chat", chat.Type)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

// syncBuffer is written by the session's reader goroutine while the test polls it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTokenCommandSavesVerifiableToken(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--token-file", tokenFile, "-o", "json", "token", "amy", "--secret", "s3cret", "--name", "Amy"})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(tokenFile)
	require.NoError(t, err)

	authCfg := auth.DefaultConfig()
	authCfg.Secret = []byte("s3cret")
	verifier, err := auth.NewJWTVerifier(authCfg, clock.New())
	require.NoError(t, err)

	identity, err := verifier.Verify(context.Background(), string(data))
	require.NoError(t, err)
	assert.Equal(t, "amy", identity.Username)
	assert.Equal(t, "Amy", identity.DisplayName)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("TILERUSH_JWT_SECRET", "")

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--token-file", filepath.Join(t.TempDir(), "token"), "token", "amy"})
	assert.Error(t, cmd.Execute())
}

func TestPlayerMeRequiresToken(t *testing.T) {
	t.Setenv("TILERUSH_TOKEN", "")

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--token-file", filepath.Join(t.TempDir(), "missing"), "player", "me"})
	assert.ErrorIs(t, cmd.Execute(), errNoToken)
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/v1/ws"},
		{"https://play.example.com/", "wss://play.example.com/api/v1/ws"},
	}
	for _, tt := range tests {
		c := &Config{ServerURL: tt.server}
		if got := c.WebsocketURL(); got != tt.want {
			t.Errorf("WebsocketURL(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}

func TestSchemaCoversEveryEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSchema(&buf, buildSchema()))

	out := buf.String()
	assert.Contains(t, out, "tilerush session protocol")
	for _, event := range []string{"join", "submit_score", "spend_energy", "heartbeat", "sync", "score_result", "rejected", "score_posted", "leaderboard"} {
		assert.Contains(t, out, `"`+event+`"`)
	}
}

func TestSchemaFileIsWrittenAtomically(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "nested", "protocol.json")
	require.NoError(t, writeSchemaFile(outPath, buildSchema()))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	_, err = os.Stat(outPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
