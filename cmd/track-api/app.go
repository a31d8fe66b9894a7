package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/services/ingest"
)

const maxPushBody = 1 << 20

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type gatewayAPI interface {
	Track(ctx context.Context, rawID string, query url.Values, refresh bool) (*models.Entity, error)
	Push(ctx context.Context, operatorCode string, payload []byte) (ingest.PushResult, error)
	InvalidateCached(ctx context.Context, trackingID string)
}

type tokenChecker interface {
	IsTokenValid(ctx context.Context, token string) (bool, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, gw gatewayAPI, tokens tokenChecker, db pinger, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := newRouter(opts, gw, tokens, db)

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			_ = consumer.Consume(ctx, func(_ []byte, value []byte) error {
				var m messages.EntityUpdated
				if err := json.Unmarshal(value, &m); err != nil {
					// Битое сообщение коммитим, иначе заклиним партицию.
					slog.Warn("skip malformed entity-updated message", "error", err.Error())
					return nil
				}
				gw.InvalidateCached(ctx, m.TrackingID)
				return nil
			})
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && ctx.Err() != nil {
		return ctx.Err()
	} else if err != nil {
		return err
	}
	return nil
}

func newRouter(opts trackAPIOpts, gw gatewayAPI, tokens tokenChecker, db pinger) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			if err := db.Ping(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"db unreachable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, req, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	descriptions := models.NewStatusDescriptions()

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(tokens))

		r.Get("/status/{id}", func(w http.ResponseWriter, req *http.Request) {
			e, err := gw.Track(req.Context(), chi.URLParam(req, "id"), req.URL.Query(), false)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, statusView(e, descriptions))
		})

		r.Get("/whereis/{id}", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			refresh := isTruthy(q.Get("refresh"))
			fullData := isTruthy(q.Get("fulldata"))
			e, err := gw.Track(req.Context(), chi.URLParam(req, "id"), q, refresh)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, entityView(e, fullData, descriptions))
		})

		r.Post("/push/{operator}", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(io.LimitReader(req.Body, maxPushBody))
			if err != nil {
				writeError(w, apperrors.New(apperrors.CodeBadRequest, "cannot read body"))
				return
			}
			res, err := gw.Push(req.Context(), chi.URLParam(req, "operator"), body)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

// authMiddleware пускает только запросы с валидным Bearer-токеном из базы.
func authMiddleware(tokens tokenChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if tokens == nil {
				next.ServeHTTP(w, req)
				return
			}
			token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
			ok, err := tokens.IsTokenValid(req.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}
			if !ok {
				writeError(w, apperrors.New(apperrors.CodeUnauthorized, "invalid or missing API token"))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

type statusResponse struct {
	TrackingID  string     `json:"trackingId"`
	UUID        string     `json:"uuid"`
	Completed   bool       `json:"completed"`
	Status      int        `json:"status"`
	Description string     `json:"description"`
	LastEventAt *time.Time `json:"lastEventAt,omitempty"`
}

func statusView(e *models.Entity, d models.StatusDescriptions) statusResponse {
	out := statusResponse{
		TrackingID: e.ID,
		UUID:       e.UUID,
		Completed:  e.Completed,
	}
	if last := e.LastEvent(); last != nil {
		out.Status = last.Status
		out.Description = d.Describe(last.Status)
		t := last.When
		out.LastEventAt = &t
	}
	return out
}

type eventResponse struct {
	EventID     string            `json:"eventId"`
	Status      int               `json:"status"`
	Description string            `json:"description"`
	What        string            `json:"what,omitempty"`
	Where       string            `json:"where,omitempty"`
	When        time.Time         `json:"when"`
	Whom        string            `json:"whom,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Exception   string            `json:"exception,omitempty"`
	Additional  map[string]string `json:"additional,omitempty"`
	SourceData  json.RawMessage   `json:"sourceData,omitempty"`
}

type entityResponse struct {
	TrackingID    string            `json:"trackingId"`
	UUID          string            `json:"uuid"`
	IngestionMode string            `json:"ingestionMode"`
	Completed     bool              `json:"completed"`
	Additional    map[string]string `json:"additional,omitempty"`
	Events        []eventResponse   `json:"events"`
}

// entityView собирает клиентское представление; сырой payload перевозчика
// отдаётся только при fulldata.
func entityView(e *models.Entity, fullData bool, d models.StatusDescriptions) entityResponse {
	out := entityResponse{
		TrackingID:    e.ID,
		UUID:          e.UUID,
		IngestionMode: string(e.IngestionMode),
		Completed:     e.Completed,
		Additional:    e.Additional,
		Events:        make([]eventResponse, 0, len(e.Events)),
	}
	e.SortEvents()
	for _, ev := range e.Events {
		view := eventResponse{
			EventID:     ev.EventID,
			Status:      ev.Status,
			Description: d.Describe(ev.Status),
			What:        ev.What,
			Where:       ev.Where,
			When:        ev.When,
			Whom:        ev.Whom,
			Notes:       ev.Notes,
			Exception:   ev.ExceptionDesc,
			Additional:  ev.Additional,
		}
		if fullData {
			view.SourceData = ev.SourceData
		}
		out.Events = append(out.Events, view)
	}
	return out
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	msg := err.Error()
	if code == apperrors.CodeInternal {
		// Внутренности не утекают наружу, подробности — в лог.
		slog.Error("internal error", "error", msg)
		msg = "internal error"
	}
	writeJSON(w, code, errorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	}
	return false
}
