package override

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/model/dto"
)

var (
	ErrNotEditable  = errors.New("only completed reports can be edited")
	ErrInvalidField = errors.New("invalid field path")
)

// Saver 保存整份 reportData（含 manualChecks）
type Saver interface {
	UpdateReport(ctx context.Context, id string, reportData map[string]interface{}) (*dto.ReportDetail, error)
}

// Editor 本地编辑报告，显式 Save 之前不会写回服务端
type Editor struct {
	mu       sync.Mutex
	reportID string
	data     map[string]interface{}
	checks   Checks
	dirty    bool
	rev      int // 每次本地修改加一
	saver    Saver
}

func NewEditor(report *dto.ReportDetail, saver Saver) (*Editor, error) {
	if report.Status != model.ReportStatusCompleted || report.ReportData == nil {
		return nil, ErrNotEditable
	}

	e := &Editor{
		reportID: report.ID,
		saver:    saver,
	}
	e.load(report.ReportData)
	return e, nil
}

func (e *Editor) load(reportData map[string]interface{}) {
	e.data = deepCopy(reportData)
	delete(e.data, ManualChecksKey)
	e.checks = FromReportData(reportData)
}

// Toggle 切换覆盖并标记未保存
func (e *Editor) Toggle(key string) (value bool, set bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touch()
	return e.checks.Toggle(key)
}

func (e *Editor) Resolve(key string, computed bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checks.Resolve(key, computed)
}

// Checks 当前覆盖表副本
func (e *Editor) Checks() Checks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checks.Clone()
}

// SetField 按点号路径修改字段，例如 "metaTags.titleLength"，中间层不存在时创建
func (e *Editor) SetField(path string, value interface{}) error {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("%w: %q", ErrInvalidField, path)
		}
	}
	if parts[0] == ManualChecksKey {
		return fmt.Errorf("%w: use Toggle for %s", ErrInvalidField, ManualChecksKey)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	node := e.data
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]interface{})
		if !ok {
			if _, exists := node[p]; exists {
				return fmt.Errorf("%w: %q is not an object", ErrInvalidField, p)
			}
			next = map[string]interface{}{}
			node[p] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
	e.touch()
	return nil
}

func (e *Editor) touch() {
	e.dirty = true
	e.rev++
}

// Field 读取点号路径上的值
func (e *Editor) Field(path string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cur interface{} = e.data
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// HasUnsavedChanges 是否有未保存的修改
func (e *Editor) HasUnsavedChanges() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// ReportData 合并了覆盖表的 reportData，即保存时提交的内容
func (e *Editor) ReportData() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Editor) snapshot() map[string]interface{} {
	out := deepCopy(e.data)
	if checks := e.checks.toJSON(); checks != nil {
		out[ManualChecksKey] = checks
	}
	return out
}

// Save 提交整份 reportData。失败时保留本地修改与未保存标记
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	payload := e.snapshot()
	rev := e.rev
	e.mu.Unlock()

	saved, err := e.saver.UpdateReport(ctx, e.reportID, payload)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// 保存期间又有修改时保留本地状态
	if e.rev != rev {
		return nil
	}
	if saved != nil && saved.ReportData != nil {
		e.load(saved.ReportData)
	}
	e.dirty = false
	return nil
}

func deepCopy(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
