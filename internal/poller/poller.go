package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/model/dto"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// Mode 与服务端 GET /api/reports/:id 的读取方式一致
type Mode string

const (
	ModeFull       Mode = "full"
	ModeStatusOnly Mode = "statusOnly"
	ModeReanalyze  Mode = "reanalyze"
)

const genericFailure = "report generation failed"

// ErrPollingTimeout 超过最大轮询次数仍未到终态
var ErrPollingTimeout = errors.New("report is taking too long, please try again later")

// ReportFailedError 服务端报告分析失败
type ReportFailedError struct {
	ReportID string
	Message  string
}

func (e *ReportFailedError) Error() string {
	return e.Message
}

// Fetcher 读取报告
type Fetcher interface {
	Fetch(ctx context.Context, id string, mode Mode) (*dto.ReportDetail, error)
}

// Progress 每次状态轮询后的回调参数
type Progress struct {
	Attempt     int
	MaxAttempts int
	Status      string
}

// Poller 顺序轮询单个报告直到终态
type Poller struct {
	fetcher     Fetcher
	interval    time.Duration
	maxAttempts int
	onProgress  func(Progress)
}

func New(fetcher Fetcher, cfg config.PollerConfig) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	return p
}

// WithProgress 设置进度回调，ctx 取消后不再调用
func (p *Poller) WithProgress(fn func(Progress)) *Poller {
	p.onProgress = fn
	return p
}

// Run 先以 reanalyze 触发新分析，然后用 statusOnly 轮询。
// completed 返回完整报告；failed 返回 *ReportFailedError；超过次数返回 ErrPollingTimeout。
func (p *Poller) Run(ctx context.Context, id string) (*dto.ReportDetail, error) {
	logger := zerolog.Ctx(ctx).With().Str("report_id", id).Logger()

	report, err := p.fetch(ctx, id, ModeReanalyze)
	if err != nil {
		return nil, err
	}

	attempts := 0
	for {
		switch report.Status {
		case model.ReportStatusCompleted:
			if report.ReportData == nil {
				// statusOnly 响应不带数据
				if report, err = p.fetch(ctx, id, ModeFull); err != nil {
					return nil, err
				}
			}
			logger.Debug().Int("attempts", attempts).Msg("report completed")
			return report, nil

		case model.ReportStatusFailed:
			if report.ReportData == nil {
				if report, err = p.fetch(ctx, id, ModeFull); err != nil {
					return nil, err
				}
			}
			return nil, &ReportFailedError{ReportID: id, Message: failureMessage(report)}

		case model.ReportStatusPending, model.ReportStatusProcessing:
			if attempts >= p.maxAttempts {
				logger.Warn().Int("attempts", attempts).Msg("polling timed out")
				return nil, ErrPollingTimeout
			}
			if err := p.wait(ctx); err != nil {
				return nil, err
			}
			attempts++

			if report, err = p.fetch(ctx, id, ModeStatusOnly); err != nil {
				return nil, err
			}
			p.progress(ctx, Progress{Attempt: attempts, MaxAttempts: p.maxAttempts, Status: report.Status})

		default:
			return nil, fmt.Errorf("unexpected report status %q", report.Status)
		}
	}
}

func (p *Poller) fetch(ctx context.Context, id string, mode Mode) (*dto.ReportDetail, error) {
	report, err := p.fetcher.Fetch(ctx, id, mode)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch report (%s): %w", mode, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return report, nil
}

func (p *Poller) wait(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Poller) progress(ctx context.Context, pr Progress) {
	if p.onProgress == nil || ctx.Err() != nil {
		return
	}
	p.onProgress(pr)
}

func failureMessage(report *dto.ReportDetail) string {
	if report == nil || report.ReportData == nil {
		return genericFailure
	}
	if msg, ok := report.ReportData["error"].(string); ok && msg != "" {
		return msg
	}
	return genericFailure
}
