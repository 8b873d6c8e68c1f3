// Package api exposes the sync engine over a local HTTP surface. The
// mobile shell drives user intents through it and reads the store's
// projection back; the socket to the party server stays the engine's
// concern.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/partyware/go-partysync/internal/chat"
	"github.com/partyware/go-partysync/internal/config"
	"github.com/partyware/go-partysync/internal/dispatch"
	"github.com/partyware/go-partysync/internal/exchange"
	"github.com/partyware/go-partysync/internal/store"
)

type SyncApp struct {
	log         *log.Logger
	store       *store.Store
	dispatcher  *dispatch.Dispatcher
	coordinator *exchange.Coordinator
	chat        *chat.Engine
	mux         *http.Server
}

func NewSyncApp(logger *log.Logger, st *store.Store, d *dispatch.Dispatcher,
	c *exchange.Coordinator, ce *chat.Engine, debugMux *http.ServeMux, cfg *config.Config) *SyncApp {
	s := &SyncApp{
		log:         logger,
		store:       st,
		dispatcher:  d,
		coordinator: c,
		chat:        ce,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/parties", s.createParty)
	mux.HandleFunc("GET /api/parties", s.listParties)
	mux.HandleFunc("GET /api/parties/{id}", s.getParty)
	mux.HandleFunc("POST /api/parties/{id}/apply", s.apply)
	mux.HandleFunc("POST /api/parties/{id}/applicants/{applicantId}/accept", s.acceptApplicant)
	mux.HandleFunc("POST /api/parties/{id}/applicants/{applicantId}/decline", s.declineApplicant)
	mux.HandleFunc("POST /api/parties/{id}/tickets", s.offerTicket)
	mux.HandleFunc("DELETE /api/parties/{id}/tickets", s.withdrawTicket)
	mux.HandleFunc("POST /api/parties/{id}/applicants/{applicantId}/settle", s.settleTicket)
	mux.HandleFunc("POST /api/parties/{id}/playing", s.startPlaying)
	mux.HandleFunc("POST /api/parties/{id}/finish-approval", s.requestFinishApproval)
	mux.HandleFunc("POST /api/parties/{id}/finish", s.finishParty)
	mux.HandleFunc("POST /api/parties/{id}/cancel", s.cancelParty)
	mux.HandleFunc("POST /api/messages", s.sendMessage)
	mux.HandleFunc("POST /api/messages/files", s.sendFiles)
	mux.HandleFunc("POST /api/messages/{id}/read", s.markRead)
	mux.HandleFunc("GET /api/conversations/{peerId}", s.getConversation)
	mux.HandleFunc("POST /api/conversations/{peerId}/open", s.openConversation)
	mux.HandleFunc("POST /api/conversations/{peerId}/typing", s.typing)
	mux.Handle("GET /debug/vars", debugMux)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ApiAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *SyncApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *SyncApp) Start() error {
	s.log.Printf("starting api server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *SyncApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down api server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
