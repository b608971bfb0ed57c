package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/internal/pkg/queue"
)

// popTimeout 单次 BRPOP 等待时间
const popTimeout = 5 * time.Second

// Source 分发消息来源
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.DispatchMessage, error)
}

// Handler 处理单条分发消息
type Handler interface {
	Process(ctx context.Context, msg *queue.DispatchMessage) error
}

// RunPool 启动 n 个 worker 消费队列，ctx 取消后等待全部退出
func RunPool(ctx context.Context, source Source, handler Handler, n int, logger zerolog.Logger) {
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(ctx, workerID, source, handler, logger.With().Int("worker", workerID).Logger())
		}(i)
	}
	wg.Wait()
}

func runWorker(ctx context.Context, workerID int, source Source, handler Handler, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker shutting down")
			return
		default:
		}

		// 从队列获取任务
		msg, err := source.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("failed to pop job")
			// 避免 Redis 故障时空转
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		if err := handler.Process(ctx, msg); err != nil {
			logger.Warn().Err(err).Str("report_id", msg.ReportID).Msg("job finished with error")
		}
	}
}
