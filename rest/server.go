package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/flowgate/engine"
	"github.com/mohitkumar/flowgate/flow"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/metadata"
	"github.com/mohitkumar/flowgate/metrics"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/trigger"
	"github.com/mohitkumar/flowgate/worker"
	"go.uber.org/zap"
)

type Services struct {
	Metadata   metadata.MetadataService
	Executions persistence.ExecutionStore
	Webhooks   *trigger.WebhookTrigger
	Schedules  *trigger.ScheduleTrigger
	Worker     *worker.Worker
	Resumer    *engine.Resumer
	Metrics    *metrics.Metrics
	// TrustedProxies lists addresses or CIDR prefixes whose X-Forwarded-For
	// header is honoured. Empty means the header is ignored.
	TrustedProxies []string
}

type Server struct {
	http.Server
	Port     int
	services Services
	trusted  []netip.Prefix
}

func NewServer(httpPort int, services Services) (*Server, error) {
	trusted, err := parseTrustedProxies(services.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%d", httpPort),
			IdleTimeout:       2 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		services: services,
		Port:     httpPort,
		trusted:  trusted,
	}

	router := mux.NewRouter()
	router.HandleFunc("/webhook-trigger/{workflowId}/{webhookId}", s.HandleWebhookTrigger).Methods(http.MethodPost)
	router.HandleFunc("/schedule-trigger", s.HandleScheduleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/queue/process", s.HandleProcessQueue).Methods(http.MethodPost)
	router.HandleFunc("/resume", s.HandleResume).Methods(http.MethodPost)

	router.HandleFunc("/metadata/workflow", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/metadata/workflow/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/metadata/webhook", s.HandleCreateWebhook).Methods(http.MethodPost)
	router.HandleFunc("/metadata/schedule", s.HandleCreateSchedule).Methods(http.MethodPost)

	router.HandleFunc("/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)

	if services.Metrics != nil {
		router.Handle("/metrics", services.Metrics.Handler()).Methods(http.MethodGet)
	}

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info(r.RequestURI, zap.String("method", r.Method), zap.Int("status", rec.status), zap.Duration("took", time.Since(start)))
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.As(err, &trigger.ValidationError{}), errors.As(err, &trigger.AuthError{}),
		errors.As(err, &trigger.RateLimitError{}), errors.As(err, &trigger.NotFoundError{}):
		return trigger.HTTPStatus(err)
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrStepNotPending), errors.Is(err, engine.ErrExecutionNotRunning),
		errors.Is(err, persistence.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidDecision), errors.As(err, &flow.ValidationError{}),
		errors.As(err, &metadata.InvalidError{}):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]any{"success": false, "error": message})
}

func respondWithErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	respondWithError(w, code, msg)
}
