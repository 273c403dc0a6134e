// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/activity"
	"github.com/matthewbaird/protestdesk/internal/auth"
	"github.com/matthewbaird/protestdesk/internal/concierge"
	"github.com/matthewbaird/protestdesk/internal/handler"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/portal"
	"github.com/matthewbaird/protestdesk/internal/wire"
)

// Config holds server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
	Support         handler.SupportContact

	Intake    *intake.Service
	Concierge *concierge.Service
	Auth      *auth.Service
	Portal    *portal.Service
	Activity  activity.Store
	Wire      wire.Options
}

// NewRouter registers every route on a chi router.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	env := handler.Env{Log: log, Support: cfg.Support}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(handler.Recovery(log))
	r.Use(handler.Logging(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		// --- Public intake ---
		ih := handler.NewIntakeHandler(cfg.Intake, env)
		r.Route("/intake", func(r chi.Router) {
			r.Post("/", ih.StartDraft)
			r.Get("/{draftID}", ih.GetDraft)
			r.Delete("/{draftID}", ih.DiscardDraft)
			r.Post("/{draftID}/steps/{step}", ih.SubmitStep)
			r.Post("/{draftID}/prev", ih.PrevStep)
			r.Post("/{draftID}/complete", ih.Complete)
		})

		// --- Staff concierge ---
		ch := handler.NewConciergeHandler(cfg.Concierge, env)
		r.Route("/concierge", func(r chi.Router) {
			r.Post("/", ch.StartDraft)
			r.Handle("/ws", wire.NewHandler(cfg.Concierge, cfg.Wire, log))
			r.Get("/{draftID}", ch.GetDraft)
			r.Post("/{draftID}/search", ch.Search)
			r.Post("/{draftID}/create-new", ch.CreateNew)
			r.Post("/{draftID}/steps/{step}", ch.SubmitStep)
			r.Post("/{draftID}/prev", ch.PrevStep)
			r.Post("/{draftID}/complete", ch.Complete)
		})

		// --- Staff activity ---
		acth := handler.NewActivityHandler(cfg.Activity, env)
		r.Get("/activity/{entity_type}/{entity_id}", acth.HandleGetEntityActivity)
		r.Post("/activity/search", acth.HandleSearchActivity)

		// --- Auth ---
		signer := cfg.Auth.Signer()
		ah := handler.NewAuthHandler(cfg.Auth, env)
		r.Post("/auth/session", ah.Session)
		r.Get("/auth/portal", ah.PortalLink)

		// --- Customer portal ---
		ph := handler.NewPortalHandler(cfg.Portal, signer, env)
		r.Post("/setup-account", ph.SetupAccount)
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireCustomer(signer, log))
			r.Get("/customer-portal", ph.Dashboard)
			r.Get("/account", ph.GetAccount)
			r.Patch("/account", ph.UpdateAccount)
			r.Get("/properties", ph.ListProperties)
			r.Post("/properties", ph.AddProperty)
			r.Get("/properties/{propertyID}", ph.GetProperty)
			r.Get("/properties/{propertyID}/activity", ph.PropertyActivity)
			r.Get("/properties/{propertyID}/evidence", ph.ListEvidence)
			r.Post("/properties/{propertyID}/evidence", ph.UploadEvidence)
			r.Get("/protests/{protestID}", ph.GetProtest)
			r.Get("/documents", ph.ListDocuments)
			r.Get("/documents/{documentID}/content", ph.DocumentContent)
			r.Get("/billing", ph.Billing)
			r.Get("/referrals", ph.ListReferrals)
			r.Post("/referrals", ph.Invite)
		})
	})

	return r
}

// Run starts the HTTP server with all routes registered and shuts it down
// when ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}
