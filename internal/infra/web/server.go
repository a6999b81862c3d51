package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"socratic-ai-service/internal/infra/stream"
	"socratic-ai-service/internal/usecase"
)

type Server struct {
	chatUC usecase.ChatUseCase
	convUC usecase.ConversationUseCase
	keyUC  usecase.KeyUseCase
	events *stream.Broadcaster
	auth   *AuthManager
	log    *zerolog.Logger
}

func NewServer(
	chatUC usecase.ChatUseCase,
	convUC usecase.ConversationUseCase,
	keyUC usecase.KeyUseCase,
	events *stream.Broadcaster,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		chatUC: chatUC,
		convUC: convUC,
		keyUC:  keyUC,
		events: events,
		auth:   auth,
		log:    logger,
	}
}

// Router assembles the full route tree. Everything under /api/v1 requires a
// valid bearer token; /metrics and /health stay open for scrapers and
// probes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Delete("/", s.handleDeleteConversation)
				r.Post("/messages", s.handleSendMessage)
				r.Get("/events", s.handleEvents)
			})
		})

		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Get("/queue/metrics", s.handleQueueMetrics)
		r.Get("/models", s.handleListModels)

		r.Route("/keys", func(r chi.Router) {
			r.Post("/", s.handleUpsertKey)
			r.Get("/", s.handleListKeys)
			r.Delete("/{provider}", s.handleDeleteKey)
		})
	})

	return r
}
