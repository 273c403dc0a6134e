package wire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/concierge"
	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/functions"
	"github.com/matthewbaird/protestdesk/internal/session"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func newServer(t *testing.T) (*httptest.Server, *dataservice.MemoryService) {
	t.Helper()
	ds := dataservice.NewMemoryService(0)
	fn := functions.NewRegistry()
	for _, name := range []string{functions.GenerateForm50162, functions.GenerateServicesAgreement} {
		fn.Register(name, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	}
	sessions := session.NewMemoryStore(time.Minute)
	t.Cleanup(sessions.Close)
	pipe := submission.New(ds, fn, event.Discard{}, zap.NewNop())
	svc := concierge.NewService(ds, sessions, pipe, time.Hour, zap.NewNop())

	h := NewHandler(svc, Options{ExitDelay: time.Millisecond, EnterDelay: time.Millisecond}, zap.NewNop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, ds
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Actor": []string{"staff-1"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ, id string, data any) {
	t.Helper()
	msg := map[string]any{"type": typ, "id": id}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

// until reads frames up to and including the first of type typ.
func until(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) (frame, []frame) {
	t.Helper()
	var seen []frame
	for {
		f := read(t, ctx, conn)
		seen = append(seen, f)
		if f.Type == typ {
			return f, seen
		}
	}
}

func viewOf(t *testing.T, f frame) concierge.View {
	t.Helper()
	var v concierge.View
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestSessionFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, _ := newServer(t)
	conn := dial(t, ctx, srv)

	f := read(t, ctx, conn)
	require.Equal(t, "session", f.Type)
	v := viewOf(t, f)
	assert.Equal(t, concierge.StepCustomer, v.Step)
	assert.Equal(t, wizard.PhaseIdle, v.Phase)
	assert.NotEmpty(t, v.ID)

	send(t, ctx, conn, "ping", "p1", nil)
	f = read(t, ctx, conn)
	assert.Equal(t, "pong", f.Type)
	assert.Equal(t, "p1", f.RequestID)
}

func TestCreateNewPlaysPhases(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, _ := newServer(t)
	conn := dial(t, ctx, srv)
	read(t, ctx, conn)

	send(t, ctx, conn, "create_new", "c1", nil)
	last, frames := until(t, ctx, conn, "view")
	require.Len(t, frames, 3)

	var exiting, entering PhaseData
	require.Equal(t, "phase", frames[0].Type)
	require.NoError(t, json.Unmarshal(frames[0].Data, &exiting))
	assert.Equal(t, wizard.PhaseExiting, exiting.Phase)
	assert.Equal(t, concierge.StepCustomer, exiting.Step)

	require.Equal(t, "phase", frames[1].Type)
	require.NoError(t, json.Unmarshal(frames[1].Data, &entering))
	assert.Equal(t, wizard.PhaseEntering, entering.Phase)
	assert.Equal(t, concierge.StepPersonalInfo, entering.Step)

	v := viewOf(t, last)
	assert.Equal(t, "c1", last.RequestID)
	assert.Equal(t, concierge.StepPersonalInfo, v.Step)
	assert.Equal(t, wizard.PhaseIdle, v.Phase)
	assert.Equal(t, concierge.ModeNew, v.Data.CustomerMode)
}

func TestErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, _ := newServer(t)
	conn := dial(t, ctx, srv)
	read(t, ctx, conn)

	var e ErrorData

	send(t, ctx, conn, "next", "n1", NextData{Step: concierge.StepReview, Input: json.RawMessage(`{}`)})
	f := read(t, ctx, conn)
	require.Equal(t, "error", f.Type)
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "step_mismatch", e.Code)

	send(t, ctx, conn, "next", "n2", NextData{Input: json.RawMessage(`{"customer_mode":"existing"}`)})
	f = read(t, ctx, conn)
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "validation_error", e.Code)
	assert.Contains(t, e.Fields, "existing_user_id")

	send(t, ctx, conn, "complete", "x1", nil)
	f = read(t, ctx, conn)
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "missing_prerequisite", e.Code)

	send(t, ctx, conn, "shout", "s1", nil)
	f = read(t, ctx, conn)
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "unknown_type", e.Code)
}

func TestSearchWithoutMatches(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, _ := newServer(t)
	conn := dial(t, ctx, srv)
	read(t, ctx, conn)

	send(t, ctx, conn, "search", "s1", SearchData{Email: "Nobody@Example.com"})
	f := read(t, ctx, conn)
	require.Equal(t, "search", f.Type)
	var res concierge.SearchResult
	require.NoError(t, json.Unmarshal(f.Data, &res))
	assert.True(t, res.CreateNew)
	assert.Empty(t, res.Matches)

	f = read(t, ctx, conn)
	require.Equal(t, "view", f.Type)
	assert.Equal(t, "nobody@example.com", viewOf(t, f).Data.SearchEmail)
}

func TestFullEnrollment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, ds := newServer(t)
	conn := dial(t, ctx, srv)
	read(t, ctx, conn)

	steps := []NextData{
		{Input: json.RawMessage(`{"customer_mode":"new"}`)},
		{Input: json.RawMessage(`{
			"first_name":"Grace","last_name":"Hopper","email":"grace@example.com",
			"property":{"place_id":"pl_g","formatted_address":"1 Navy Way, Arlington, VA","state":"VA"}
		}`)},
		{Input: json.RawMessage(`{"is_owner_verified":true,"verification_method":"deed"}`)},
		{Input: json.RawMessage(`{"signature_mode":"typed","typed_name":"Grace Hopper"}`)},
	}
	var v concierge.View
	for _, s := range steps {
		send(t, ctx, conn, "next", "", s)
		f, frames := until(t, ctx, conn, "view")
		for _, fr := range frames {
			require.NotEqual(t, "error", fr.Type, string(fr.Data))
		}
		v = viewOf(t, f)
	}
	require.Equal(t, concierge.StepReview, v.Step)
	require.True(t, v.Submittable, v.Missing)

	send(t, ctx, conn, "complete", "done", nil)
	f := read(t, ctx, conn)
	require.Equal(t, "complete", f.Type, string(f.Data))
	var out concierge.Completion
	require.NoError(t, json.Unmarshal(f.Data, &out))
	assert.True(t, out.Success)
	assert.Equal(t, "grace@example.com", out.Email)

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	owners, err := ds.Owners().List(ctx, dataservice.Query{})
	require.NoError(t, err)
	require.Len(t, owners, 1)
}

func TestMissingActor(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
