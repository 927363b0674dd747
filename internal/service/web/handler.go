package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"liuproxy_rotator/internal/shared/logger"
	manager "liuproxy_rotator/proxypool"
	"liuproxy_rotator/proxypool/transport"
)

// PoolController 是 web 层访问代理池所需的最小接口，使 web 包与管理器解耦。
type PoolController interface {
	Stats() manager.Stats
	Get(ctx context.Context, rawURL string, params url.Values, opts ...manager.GetOption) (*transport.Response, error)
}

type Handler struct {
	pool PoolController
}

func NewHandler(pool PoolController) *Handler {
	return &Handler{pool: pool}
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.pool.Stats())
}

// HandleFetch 处理 GET /api/fetch?url=... 请求：经由代理池发出一次请求，
// 将上游的状态码和正文原样返回。
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "Missing 'url' query parameter", http.StatusBadRequest)
		return
	}

	resp, err := h.pool.Get(r.Context(), target, nil)
	if err != nil {
		status := fetchErrorStatus(err)
		logger.Warn().Err(err).Str("url", target).Int("status", status).Msg("[Handler] Fetch failed.")
		http.Error(w, err.Error(), status)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Rotator-Proxy", resp.Proxy.String())
	w.Header().Set("X-Rotator-Fingerprint", resp.Fingerprint)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func fetchErrorStatus(err error) int {
	var reqErr *manager.RequestError
	switch {
	case errors.Is(err, manager.ErrClosed), errors.Is(err, manager.ErrExhausted):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
