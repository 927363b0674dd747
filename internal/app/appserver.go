package app

import (
	"context"
	"sync"
	"time"

	"liuproxy_rotator/internal/service/web"
	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/internal/shared/types"
	manager "liuproxy_rotator/proxypool"
)

const statsLogInterval = 30 * time.Second

// AppServer 组合代理池管理器和状态 API，负责它们的启动与关闭顺序。
type AppServer struct {
	cfg     *types.Config
	manager *manager.Manager

	waitGroup sync.WaitGroup
}

// New 创建代理池。本机公网 IP 无法解析时返回 manager.ErrInitialization。
func New(ctx context.Context, cfg *types.Config, opts ...manager.Option) (*AppServer, error) {
	m, err := manager.New(ctx, cfg.PoolConf, opts...)
	if err != nil {
		return nil, err
	}
	return &AppServer{cfg: cfg, manager: m}, nil
}

// Manager 返回底层的代理池管理器
func (s *AppServer) Manager() *manager.Manager {
	return s.manager
}

// Run 启动 web API 和周期性状态日志，阻塞直到 ctx 结束，然后关闭代理池并等待后台任务退出。
func (s *AppServer) Run(ctx context.Context) error {
	logger.Info().Int("pool_size", s.cfg.PoolSize).Msg("Starting rotator...")

	if err := web.StartServer(ctx, &s.waitGroup, s.cfg.WebConf, s.manager); err != nil {
		s.manager.Close()
		s.manager.Wait()
		return err
	}

	s.waitGroup.Add(1)
	go s.statsLoop(ctx)

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, closing proxy pool...")
	s.manager.Close()
	s.manager.Wait()
	s.waitGroup.Wait()
	logger.Info().Msg("Rotator stopped.")
	return nil
}

func (s *AppServer) statsLoop(ctx context.Context) {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st := s.manager.Stats()
			logger.Info().
				Int("size", st.Size).
				Int("capacity", st.Capacity).
				Int("denied", st.Denied).
				Msgf("Pool stats: served=%d discarded=%d passes=%d", st.Served, st.Discarded, st.Passes)
		case <-ctx.Done():
			return
		}
	}
}
