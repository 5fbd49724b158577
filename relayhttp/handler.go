package relayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	streamguard "github.com/ggoodman/streamguard-go"
	"github.com/ggoodman/streamguard-go/auth"
	"github.com/ggoodman/streamguard-go/chunkstream"
	"github.com/ggoodman/streamguard-go/internal/logctx"
	"github.com/ggoodman/streamguard-go/ssestream"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	lastEventIDHeader     = "Last-Event-ID"
	streamIDHeader        = "Stream-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

const defaultMaxChunkBytes = 1 << 20

// writeJSONError emits a minimal JSON body for HTTP-layer rejections.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger        *slog.Logger
	realm         string
	maxChunkBytes int64
}

// WithLogger sets the slog logger used by the handler. If not provided,
// logs go to slog.Default.
func WithLogger(h *slog.Logger) Option {
	return func(c *newConfig) { c.logger = h }
}

// WithRealm sets the HTTP authentication realm advertised in
// WWW-Authenticate challenges. If empty (default), the realm attribute is
// omitted entirely per RFC 6750.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithMaxChunkBytes bounds the accepted size of a single appended chunk.
// Defaults to 1 MiB.
func WithMaxChunkBytes(n int64) Option {
	return func(c *newConfig) {
		if n > 0 {
			c.maxChunkBytes = n
		}
	}
}

// buildBearerChallenge builds a standardized Bearer challenge header value.
// Format:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// Realm is omitted if empty. Since Go map iteration is randomized, the
// parameters we care about are appended in explicit order.
func buildBearerChallenge(realm string, params map[string]string) string {
	pieces := make([]string, 0, 1+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if params != nil {
		if v, ok := params["error"]; ok {
			pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
		}
		if v, ok := params["error_description"]; ok {
			pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
		}
		for k, v := range params {
			if k == "error" || k == "error_description" {
				continue
			}
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// Handler exposes chunk streams over HTTP: publishers append chunks to a
// named stream, consumers read the stream as Server-Sent Events. Every
// consumer response is driven through a streamguard.Guard, so a consumer
// that connects and immediately vanishes before the stream produced
// anything still observes (or at least is owed) a properly terminated
// frame sequence.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	serverURL *url.URL

	auth          auth.Authenticator
	broker        chunkstream.Broker
	realm         string
	maxChunkBytes int64
}

// New constructs a Handler.
//
// Required:
//   - publicEndpoint: externally visible base URL of the relay (scheme, host, path)
//   - broker: chunkstream.Broker implementation (horizontal-scale ready)
//   - authenticator: auth.Authenticator implementation
func New(ctx context.Context, publicEndpoint string, broker chunkstream.Broker, authenticator auth.Authenticator, opts ...Option) (*Handler, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	baseURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if baseURL.Scheme != "https" && baseURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", baseURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default(), maxChunkBytes: defaultMaxChunkBytes}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:           slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		serverURL:     baseURL,
		auth:          authenticator,
		broker:        broker,
		realm:         cfg.realm,
		maxChunkBytes: cfg.maxChunkBytes,
	}

	base := strings.TrimSuffix(pathOnly(baseURL), "/")
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s/streams", base), h.handleCreateStream)
	mux.HandleFunc(fmt.Sprintf("POST %s/streams/{id}", base), h.handleAppendChunk)
	mux.HandleFunc(fmt.Sprintf("GET %s/streams/{id}", base), h.handleConsumeStream)
	mux.HandleFunc(fmt.Sprintf("DELETE %s/streams/{id}", base), h.handleDeleteStream)
	h.mux = mux
	return h, nil
}

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handleCreateStream allocates a new stream identifier. Streams are
// materialized lazily on first append or subscribe.
func (h *Handler) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	streamID := uuid.NewString()
	h.log.InfoContext(ctx, "stream.create.ok", slog.String("stream_id", streamID))

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set(streamIDHeader, streamID)
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]any{"stream_id": streamID}); err != nil {
		h.log.ErrorContext(ctx, "stream.create.write.fail", slog.String("err", err.Error()))
	}
}

// handleAppendChunk appends the request body to the stream as one chunk. A
// "final=1" query parameter marks the stream's terminating chunk.
func (h *Handler) handleAppendChunk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	streamID := r.PathValue("id")
	ctx = logctx.WithStreamData(ctx, &logctx.StreamData{StreamID: streamID, UserID: userInfo.UserID()})

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "chunk exceeds size limit")
			h.log.WarnContext(ctx, "chunk.append.too_large", slog.Int64("limit", tooLarge.Limit))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read chunk body")
		h.log.WarnContext(ctx, "chunk.append.read.fail", slog.String("err", err.Error()))
		return
	}

	final := isTruthy(r.URL.Query().Get("final"))

	eventID, err := h.broker.Append(ctx, streamID, body, final)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to append chunk")
		h.log.ErrorContext(ctx, "chunk.append.fail", slog.String("err", err.Error()))
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]any{"event_id": eventID, "final": final}); err != nil {
		h.log.ErrorContext(ctx, "chunk.append.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "chunk.append.ok", slog.String("event_id", eventID), slog.Duration("dur", time.Since(start)))
}

// handleConsumeStream serves the stream as Server-Sent Events. The whole
// response life-cycle runs under a Guard: once the SSE headers are
// committed, the response is terminated with a final frame no matter what
// the stream, the peer, or the broker does.
func (h *Handler) handleConsumeStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}
	h.log.InfoContext(ctx, "auth.ok")

	streamID := r.PathValue("id")
	lastEventID := r.Header.Get(lastEventIDHeader)
	ctx = logctx.WithStreamData(ctx, &logctx.StreamData{
		StreamID:    streamID,
		UserID:      userInfo.UserID(),
		LastEventID: lastEventID,
	})

	sub, err := h.broker.Subscribe(ctx, streamID, lastEventID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to subscribe to stream")
		h.log.ErrorContext(ctx, "stream.subscribe.fail", slog.String("err", err.Error()))
		return
	}

	sink, err := ssestream.NewWriter(w, ssestream.WithContext(ctx))
	if err != nil {
		_ = sub.Close()
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	g := streamguard.New(
		streamguard.WithLogger(h.log),
		streamguard.WithStartFrame(streamguard.StartFrame{
			Status: http.StatusOK,
			Header: http.Header{streamIDHeader: []string{streamID}},
		}),
	)
	g.Own(sub)

	h.log.InfoContext(ctx, "sse.stream.start")

	err = g.Run(ctx, chunkstream.NewProducer(sub), sink)
	switch {
	case err == nil:
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, context.Canceled):
		h.log.InfoContext(ctx, "sse.stream.done", slog.Duration("dur", time.Since(start)))
	default:
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

// handleDeleteStream removes the stream and closes its subscriptions.
func (h *Handler) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	streamID := r.PathValue("id")
	ctx = logctx.WithStreamData(ctx, &logctx.StreamData{StreamID: streamID, UserID: userInfo.UserID()})

	if err := h.broker.Cleanup(ctx, streamID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete stream")
		h.log.ErrorContext(ctx, "stream.delete.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "stream.delete.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	authHeader := r.Header.Get(authorizationHeader)

	if authHeader == "" {
		// RFC 6750 §3.1: if the request lacks any authentication
		// information the resource server SHOULD NOT include an error
		// code. Provide only a bare Bearer challenge with realm.
		h.log.InfoContext(ctx, "auth.check.missing", slog.String("err", "no authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, nil))
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}

	// Malformed header or wrong scheme -> invalid_request 400 per RFC 6750 §3.1.
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}))
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "empty bearer token"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_request", "error_description": "empty bearer token"}))
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_token", "error_description": err.Error()}))
			w.WriteHeader(http.StatusUnauthorized)
			return nil
		}

		h.log.InfoContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	}

	return userInfo
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
