// internal/services/generation_metrics.go
package services

import (
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/metrics"
)

// GenerationMetrics 生成调用的运行统计
type GenerationMetrics struct {
	mutex             sync.RWMutex
	totalCalls        int64
	failedCalls       int64
	rejectedCalls     int64
	averageDuration   time.Duration
	inFlight          int32
	failuresByType    map[apperrors.ErrorType]int64
	lastMetricsReset  time.Time
	lastGenerationEnd time.Time
}

// NewGenerationMetrics 创建统计对象
func NewGenerationMetrics() *GenerationMetrics {
	return &GenerationMetrics{
		failuresByType:   make(map[apperrors.ErrorType]int64),
		lastMetricsReset: time.Now(),
	}
}

// Begin 记录一次生成开始
func (m *GenerationMetrics) Begin() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.inFlight++
}

// RecordGeneration 记录一次生成结束
func (m *GenerationMetrics) RecordGeneration(kind string, duration time.Duration, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.inFlight--
	m.totalCalls++
	m.averageDuration = (m.averageDuration*time.Duration(m.totalCalls-1) + duration) / time.Duration(m.totalCalls)
	m.lastGenerationEnd = time.Now()

	outcome := "success"
	if err != nil {
		m.failedCalls++
		errType := apperrors.TypeOf(err)
		if errType == "" {
			errType = "unknown"
		}
		m.failuresByType[errType]++
		outcome = string(errType)
	}

	metrics.GenerationTotal.WithLabelValues(kind, outcome).Inc()
	metrics.GenerationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRejected 记录因已有生成进行中而被拒绝的请求
func (m *GenerationMetrics) RecordRejected(kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.rejectedCalls++
	metrics.GenerationRejected.WithLabelValues(kind).Inc()
}

// GetMetrics 获取统计数据
func (m *GenerationMetrics) GetMetrics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	failures := make(map[string]int64, len(m.failuresByType))
	for k, v := range m.failuresByType {
		failures[string(k)] = v
	}

	return map[string]interface{}{
		"total_generations":   m.totalCalls,
		"failed_generations":  m.failedCalls,
		"rejected_requests":   m.rejectedCalls,
		"average_duration_ms": m.averageDuration.Milliseconds(),
		"in_flight":           m.inFlight,
		"failures_by_type":    failures,
		"last_generation_at":  m.lastGenerationEnd,
		"last_reset":          m.lastMetricsReset,
	}
}

// ResetMetrics 重置统计数据
func (m *GenerationMetrics) ResetMetrics() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalCalls = 0
	m.failedCalls = 0
	m.rejectedCalls = 0
	m.averageDuration = 0
	m.failuresByType = make(map[apperrors.ErrorType]int64)
	m.lastMetricsReset = time.Now()
}
