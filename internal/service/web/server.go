package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/internal/shared/types"
)

// loggingListener 记录每个被接受的连接，便于排查
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("[WebServer] Connection accepted.")
	}
	return conn, err
}

// basicAuthMiddleware 检查 web_user 和 web_password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux 组装全部路由。
func NewMux(cfg types.WebConf, pool PoolController, hub *Hub) *http.ServeMux {
	handler := NewHandler(pool)
	mux := http.NewServeMux()

	// 公开的状态 API
	mux.HandleFunc("/api/status", handler.HandleStatus)

	// fetch 会消耗代理，需要认证
	mux.Handle("/api/fetch", basicAuthMiddleware(http.HandlerFunc(handler.HandleFetch), cfg.WebUser, cfg.WebPassword))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})
	return mux
}

// StartServer 在 web_port 上启动状态 API，并启动 hub 与状态推送。
// web_port <= 0 时不启动。ctx 结束后服务器优雅关闭。
func StartServer(ctx context.Context, wg *sync.WaitGroup, cfg types.WebConf, pool PoolController) error {
	if cfg.WebPort <= 0 {
		logger.Info().Msg("[WebServer] Web API is disabled (web_port is 0 or not set).")
		return nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start web API on %s: %w", addr, err)
	}

	hub := NewHub()
	srv := &http.Server{
		Handler:           NewMux(cfg, pool, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info().Msgf("SUCCESS: Web API is listening on http://%s", addr)

	wg.Add(3)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		hub.RunStatsTicker(ctx, cfg.StatsInterval(), pool)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return nil
}
