package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"arbor/internal/capabilities"
	"arbor/internal/domain/models"
	"arbor/internal/httputil"
	"arbor/internal/provider"
	"arbor/internal/service"
	"arbor/internal/stream"
)

const defaultMaxTokens = 4096

// ChatRequest is the body of POST /api/chat. Messages is the full
// transcript the client holds; only the last (user) entry is new.
type ChatRequest struct {
	Messages       []models.ChatMessage `json:"messages"`
	Model          string               `json:"model"`
	SessionID      string               `json:"session_id"`
	ConversationID *int64               `json:"conversation_id"`
}

// ChatHandler relays a provider's event stream to the client and mirrors
// the exchange into the session for later reconciliation.
type ChatHandler struct {
	providers    *provider.Registry
	catalog      *capabilities.Registry
	sessions     *service.SessionManager
	reconciler   *service.Reconciler
	defaultModel string
	logger       *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	providers *provider.Registry,
	catalog *capabilities.Registry,
	sessions *service.SessionManager,
	reconciler *service.Reconciler,
	defaultModel string,
	logger *slog.Logger,
) *ChatHandler {
	return &ChatHandler{
		providers:    providers,
		catalog:      catalog,
		sessions:     sessions,
		reconciler:   reconciler,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// Chat streams an assistant reply
// POST /api/chat
//
// The response is an incremental text stream (X-Chat-Stream: v1). If the
// provider rejects the request before producing any byte, the client gets
// a JSON error body with a 502 instead of a broken stream.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Messages) == 0 {
		httputil.RespondError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != string(models.SenderUser) || last.Content == "" {
		httputil.RespondError(w, http.StatusBadRequest, "last message must be a non-empty user message")
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}
	inv, err := h.providers.Resolve(model)
	if err != nil {
		handleError(w, err)
		return
	}

	session := h.sessions.Get(req.SessionID)
	if req.ConversationID != nil {
		if bound := session.ConversationID(); bound == nil {
			// The client continues a persisted conversation; its history is
			// already in the store, only this exchange needs syncing.
			session.Bind(*req.ConversationID, 0)
		} else if *bound != *req.ConversationID {
			// A rebind would interleave two conversations into one
			// transcript; a client that wants to switch starts a new session.
			httputil.RespondError(w, http.StatusConflict,
				"session is already bound to a different conversation")
			return
		}
	}

	if err := session.AppendUser(last.Content); err != nil {
		handleError(w, err)
		return
	}
	if err := session.BeginAssistant(); err != nil {
		handleError(w, err)
		return
	}

	preq := &provider.Request{
		Model:     model,
		Messages:  req.Messages,
		MaxTokens: h.maxTokensFor(model),
	}

	ch := stream.NewEmitter()
	resp := stream.OpenResponse(ch, func() error {
		return inv.Stream(r.Context(), preq, ch)
	})

	if resp.StatusCode != http.StatusOK {
		h.finish(r, session)
		copyResponse(w, resp)
		return
	}

	streamErr := h.relay(w, r, resp, session)
	h.finish(r, session)

	if streamErr != nil {
		// The client must observe a failed stream, not a clean end: abort
		// the connection so the read side errors out instead of seeing EOF.
		panic(http.ErrAbortHandler)
	}
}

// relay pumps the bridged stream to the client, flushing per chunk and
// teeing the text into the session's in-flight assistant entry. A non-nil
// return means the stream failed mid-flight; the caller aborts the
// connection after settling the session.
func (h *ChatHandler) relay(w http.ResponseWriter, r *http.Request, resp *http.Response, session *service.Session) error {
	defer resp.Body.Close()

	// A vanished client must tear the bridge down, or the read below would
	// block forever on a stream nobody consumes. Close is idempotent and
	// wakes the blocked read with a cancellation error.
	stop := context.AfterFunc(r.Context(), func() { resp.Body.Close() })
	defer stop()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			text := string(buf[:n])
			if appendErr := session.AppendAssistantDelta(text); appendErr != nil {
				h.logger.Warn("session append failed", "error", appendErr)
			}
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; the deferred Close drops late events.
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			switch {
			case err == io.EOF:
				return nil
			case errors.Is(err, stream.ErrCancelled):
				// Consumer-driven teardown; the client is already gone.
				return nil
			default:
				h.logger.Warn("stream ended with error", "error", err)
				return err
			}
		}
	}
}

// finish settles the session and reconciles it with the store. Runs even
// when the client disconnected mid-stream, so the partial reply is kept.
func (h *ChatHandler) finish(r *http.Request, session *service.Session) {
	session.Settle()

	// Errors are logged by the reconciler; the session retries next settle.
	ctx := context.WithoutCancel(r.Context())
	_ = h.reconciler.Reconcile(ctx, session)
}

func (h *ChatHandler) maxTokensFor(model string) int {
	m, err := h.catalog.GetModel(model)
	if err != nil || m.MaxOutput <= 0 {
		return defaultMaxTokens
	}
	return m.MaxOutput
}

// copyResponse writes a pre-built response (the façade's error path) to the
// client verbatim.
func copyResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
