package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultSweepInterval = time.Minute

// Sweeper 定期把超时任务落库为 FAILED 并删除过期任务。MySQL 没有原生 TTL，由它代替。
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	log      zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper interval<=0 时使用一分钟
func NewSweeper(manager *Manager, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start 在后台开始清理
func (s *Sweeper) Start() {
	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.RunOnce(context.Background())
			}
		}
	}()
	s.log.Info().Dur("interval", s.interval).Msg("任务清理器已启动")
}

// RunOnce 执行一轮清理
func (s *Sweeper) RunOnce(ctx context.Context) {
	if n, err := s.manager.FailOverdue(ctx); err != nil {
		s.log.Error().Err(err).Msg("标记超时任务失败")
	} else if n > 0 {
		s.log.Warn().Int64("count", n).Msg("已将超时任务标记为 FAILED")
	}

	if n, err := s.manager.DeleteExpired(ctx); err != nil {
		s.log.Error().Err(err).Msg("清理过期任务失败")
	} else if n > 0 {
		s.log.Info().Int64("count", n).Msg("已删除过期任务")
	}
}

// Stop 停止并等待当前一轮结束
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
