package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/internal/pkg/queue"
)

// Dispatcher 将一次分析交给后台执行，调用方不等待结果
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *queue.DispatchMessage) error
}

// Processor 执行单次分析并写回终态
type Processor interface {
	Process(ctx context.Context, msg *queue.DispatchMessage) error
}

// InlineDispatcher 在本进程内起 goroutine 执行分析
type InlineDispatcher struct {
	processor Processor
	logger    zerolog.Logger
	wg        sync.WaitGroup

	// base 随进程关停取消
	base   context.Context
	cancel context.CancelFunc
}

func NewInlineDispatcher(processor Processor, logger zerolog.Logger) *InlineDispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &InlineDispatcher{
		processor: processor,
		logger:    logger.With().Str("component", "inline_dispatcher").Logger(),
		base:      base,
		cancel:    cancel,
	}
}

// Dispatch 脱离请求生命周期，请求结束不会取消分析，只有 Shutdown 会
func (d *InlineDispatcher) Dispatch(ctx context.Context, msg *queue.DispatchMessage) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.base, cancel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer stop()
		if err := d.processor.Process(runCtx, msg); err != nil {
			d.logger.Error().Err(err).
				Str("report_id", msg.ReportID).
				Int("attempt", msg.Attempt).
				Msg("inline analysis failed")
		}
	}()
	return nil
}

// Wait 等待所有进行中的分析结束
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown 等待进行中的分析，ctx 到期后取消剩余分析并等待其写回终态
func (d *InlineDispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
	}

	d.logger.Warn().Msg("shutdown deadline reached, cancelling in-flight analyses")
	d.cancel()
	<-done
	return ctx.Err()
}

// QueueDispatcher 推入 Redis 队列，由 worker 进程消费
type QueueDispatcher struct {
	queue *queue.Queue
}

func NewQueueDispatcher(q *queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, msg *queue.DispatchMessage) error {
	if err := d.queue.Push(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue analysis: %w", err)
	}
	return nil
}
