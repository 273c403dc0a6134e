package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/protestdesk/internal/concierge"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/validate"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

// errEnrolled ends a connection after a successful completion.
var errEnrolled = errors.New("wire: enrolled")

// Options tunes the Handler.
type Options struct {
	// ExitDelay and EnterDelay are the lengths of the step animations.
	ExitDelay  time.Duration
	EnterDelay time.Duration
	// OriginPatterns is passed to websocket.Accept. Empty means same origin.
	OriginPatterns []string
}

// DefaultOptions matches the front end's step animation.
func DefaultOptions() Options {
	return Options{ExitDelay: 250 * time.Millisecond, EnterDelay: 250 * time.Millisecond}
}

// Handler manages WebSocket connections for the concierge wizard.
type Handler struct {
	svc  *concierge.Service
	opts Options
	log  *zap.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(svc *concierge.Service, opts Options, log *zap.Logger) *Handler {
	return &Handler{svc: svc, opts: opts, log: log.Named("wire")}
}

// ServeHTTP upgrades to WebSocket and runs the message loop. Browsers cannot
// set headers on the upgrade request, so the staff id may also come from the
// actor query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	staff := r.Header.Get("X-Actor")
	if staff == "" {
		staff = r.URL.Query().Get("actor")
	}
	if staff == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"X-Actor header is required","code":"MISSING_ACTOR"}`))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.log.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	c := &client{
		h:    h,
		conn: conn,
		id:   uuid.New().String(),
		w:    h.svc.NewWizard(staff, true),
	}
	c.log = h.log.With(zap.String("session_id", c.id), zap.String("staff_id", staff))
	defer c.stopTimer()

	err = c.run(r.Context())
	switch {
	case errors.Is(err, errEnrolled):
		c.log.Info("concierge session enrolled")
	case websocket.CloseStatus(err) != -1:
		c.log.Debug("connection closed", zap.Int("status", int(websocket.CloseStatus(err))))
	case err != nil && !errors.Is(err, context.Canceled):
		c.log.Debug("connection ended", zap.Error(err))
	}
}

// client is one connection and the wizard it drives. Only the loop
// goroutine touches the wizard or writes to the connection.
type client struct {
	h    *Handler
	conn *websocket.Conn
	id   string
	w    *concierge.Wizard
	log  *zap.Logger

	timer   *time.Timer
	tick    <-chan time.Time
	pending string // request that started the running transition
	done    bool
}

func (c *client) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	msgs := make(chan ClientMessage)

	g.Go(func() error {
		defer close(msgs)
		for {
			var msg ClientMessage
			if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
				return err
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	g.Go(func() error { return c.loop(ctx, msgs) })
	return g.Wait()
}

func (c *client) loop(ctx context.Context, msgs <-chan ClientMessage) error {
	c.send(ctx, ServerMessage{Type: "session", Data: c.view()})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				return err
			}
		case <-c.tick:
			c.advance(ctx)
		}
	}
}

func (c *client) handle(ctx context.Context, msg ClientMessage) error {
	switch msg.Type {
	case "ping":
		c.send(ctx, ServerMessage{Type: "pong", RequestID: msg.ID})
		return nil
	case "view":
		c.send(ctx, ServerMessage{Type: "view", RequestID: msg.ID, Data: c.view()})
		return nil
	case "next", "prev", "search", "create_new", "complete":
	default:
		c.sendError(ctx, msg.ID, ErrorData{Code: "unknown_type", Message: fmt.Sprintf("unknown message type: %s", msg.Type)})
		return nil
	}

	if c.w.Transitioning() {
		c.sendError(ctx, msg.ID, ErrorData{Code: "busy", Message: "a step transition is in progress"})
		return nil
	}

	switch msg.Type {
	case "next":
		var data NextData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(ctx, msg.ID, ErrorData{Code: "invalid_data", Message: "invalid next data"})
			return nil
		}
		if data.Step == "" {
			data.Step = c.w.Current()
		}
		if err := c.h.svc.Apply(ctx, c.w, data.Step, data.Input); err != nil {
			c.sendError(ctx, msg.ID, failure(err))
			return nil
		}
		c.moved(ctx, msg.ID)

	case "prev":
		c.w.Prev()
		c.moved(ctx, msg.ID)

	case "search":
		var data SearchData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(ctx, msg.ID, ErrorData{Code: "invalid_data", Message: "invalid search data"})
			return nil
		}
		res, err := c.h.svc.Search(ctx, c.w, data.Email)
		if err != nil {
			c.sendError(ctx, msg.ID, failure(err))
			return nil
		}
		c.send(ctx, ServerMessage{Type: "search", RequestID: msg.ID, Data: res})
		c.send(ctx, ServerMessage{Type: "view", RequestID: msg.ID, Data: c.view()})

	case "create_new":
		if err := c.h.svc.CreateNew(c.w); err != nil {
			c.sendError(ctx, msg.ID, failure(err))
			return nil
		}
		c.moved(ctx, msg.ID)

	case "complete":
		if c.done {
			c.sendError(ctx, msg.ID, ErrorData{Code: "already_submitted", Message: "this session has already been submitted"})
			return nil
		}
		out, err := c.h.svc.Submit(ctx, c.w)
		if err != nil {
			c.log.Warn("concierge submission failed", zap.Error(err))
			c.sendError(ctx, msg.ID, failure(err))
			return nil
		}
		c.done = true
		c.send(ctx, ServerMessage{Type: "complete", RequestID: msg.ID, Data: out})
		_ = c.conn.Close(websocket.StatusNormalClosure, "enrolled")
		return errEnrolled
	}
	return nil
}

// moved reports the outcome of an action that may have started a
// transition.
func (c *client) moved(ctx context.Context, requestID string) {
	if !c.w.Transitioning() {
		c.send(ctx, ServerMessage{Type: "view", RequestID: requestID, Data: c.view()})
		return
	}
	c.pending = requestID
	c.sendPhase(ctx)
	c.schedule()
}

// advance completes the running animation phase.
func (c *client) advance(ctx context.Context) {
	c.tick = nil
	if !c.w.Advance() {
		return
	}
	if c.w.Transitioning() {
		c.sendPhase(ctx)
		c.schedule()
		return
	}
	c.send(ctx, ServerMessage{Type: "view", RequestID: c.pending, Data: c.view()})
	c.pending = ""
}

func (c *client) schedule() {
	d := c.h.opts.ExitDelay
	if c.w.Phase() == wizard.PhaseEntering {
		d = c.h.opts.EnterDelay
	}
	c.stopTimer()
	c.timer = time.NewTimer(d)
	c.tick = c.timer.C
}

func (c *client) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *client) view() concierge.View {
	return c.h.svc.Describe(c.id, c.w)
}

func (c *client) sendPhase(ctx context.Context) {
	c.send(ctx, ServerMessage{
		Type:      "phase",
		RequestID: c.pending,
		Data:      PhaseData{Phase: c.w.Phase(), Step: c.w.Current(), Index: c.w.Index()},
	})
}

func (c *client) send(ctx context.Context, msg ServerMessage) {
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		c.log.Debug("write error", zap.Error(err))
	}
}

func (c *client) sendError(ctx context.Context, requestID string, data ErrorData) {
	c.send(ctx, ServerMessage{Type: "error", RequestID: requestID, Data: data})
}

// failure describes err for the client.
func failure(err error) ErrorData {
	var (
		fields   validate.Errors
		prereq   *submission.PrerequisiteError
		step     *submission.StepError
		mismatch *intake.StepMismatchError
	)
	switch {
	case errors.As(err, &step):
		return ErrorData{Code: "submission_failed", Message: step.Error()}
	case errors.As(err, &fields):
		return ErrorData{Code: "validation_error", Message: "validation failed", Fields: fields}
	case errors.Is(err, intake.ErrSupportRequired):
		return ErrorData{Code: "support_required", Message: err.Error()}
	case errors.As(err, &prereq):
		return ErrorData{Code: "missing_prerequisite", Message: err.Error(), Missing: prereq.Missing}
	case errors.As(err, &mismatch):
		return ErrorData{Code: "step_mismatch", Message: err.Error()}
	case errors.Is(err, concierge.ErrNotOnCustomerStep):
		return ErrorData{Code: "wrong_step", Message: err.Error()}
	case errors.Is(err, intake.ErrBadInput):
		return ErrorData{Code: "invalid_data", Message: err.Error()}
	default:
		return ErrorData{Code: "internal_error", Message: "internal error"}
	}
}
