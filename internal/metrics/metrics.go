package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"kvload/internal/command"
)

// DefaultMaxLatencySamples はP99計算に保持するレイテンシの最大数
const DefaultMaxLatencySamples = 10000

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int
}

// Metrics はコマンド往復のメトリクスを収集する
type Metrics struct {
	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	totalLatencyNs  atomic.Uint64
	gets            atomic.Uint64
	sets            atomic.Uint64
	reconnects      atomic.Uint64
	activeSessions  atomic.Int64
	connected       atomic.Int64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowRequests    uint64
	latencies         []time.Duration
	maxLatencySamples int
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(Config{MaxLatencySamples: DefaultMaxLatencySamples})
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = DefaultMaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, samples),
		maxLatencySamples: samples,
	}
}

func (m *Metrics) countKind(kind command.Kind) {
	if kind == command.KindSet {
		m.sets.Inc()
	} else {
		m.gets.Inc()
	}
}

// RecordSuccess は成功した往復を記録する
func (m *Metrics) RecordSuccess(kind command.Kind, latency time.Duration) {
	m.totalRequests.Inc()
	m.successRequests.Inc()
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.countKind(kind)

	m.mu.Lock()
	m.windowRequests++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	m.mu.Unlock()
}

// RecordFailure は失敗した往復を記録する
func (m *Metrics) RecordFailure(kind command.Kind, latency time.Duration) {
	m.totalRequests.Inc()
	m.failedRequests.Inc()
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.countKind(kind)

	m.mu.Lock()
	m.windowRequests++
	m.mu.Unlock()
}

// RecordReconnect は再接続を記録する
func (m *Metrics) RecordReconnect() {
	m.reconnects.Inc()
}

// SessionStarted はセッション開始を記録する
func (m *Metrics) SessionStarted() { m.activeSessions.Inc() }

// SessionFinished はセッション終了を記録する
func (m *Metrics) SessionFinished() { m.activeSessions.Dec() }

// Connected は接続確立を記録する
func (m *Metrics) Connected() { m.connected.Inc() }

// Disconnected は切断を記録する
func (m *Metrics) Disconnected() { m.connected.Dec() }

// TotalRequests は総リクエスト数を返す
func (m *Metrics) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// SuccessRequests は成功リクエスト数を返す
func (m *Metrics) SuccessRequests() uint64 {
	return m.successRequests.Load()
}

// FailedRequests は失敗リクエスト数を返す
func (m *Metrics) FailedRequests() uint64 {
	return m.failedRequests.Load()
}

// Reconnects は再接続回数を返す
func (m *Metrics) Reconnects() uint64 {
	return m.reconnects.Load()
}

// ActiveSessions は実行中のセッション数を返す
func (m *Metrics) ActiveSessions() int64 {
	return m.activeSessions.Load()
}

// ConnectedSessions は接続中のセッション数を返す
func (m *Metrics) ConnectedSessions() int64 {
	return m.connected.Load()
}

// RPS は現在のRequests Per Secondを返す
func (m *Metrics) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowRequests) / elapsed
}

// OverallRPS は開始からの平均RPSを返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedRequests.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalRequests     uint64        `json:"total_requests"`
	SuccessRequests   uint64        `json:"success_requests"`
	FailedRequests    uint64        `json:"failed_requests"`
	Gets              uint64        `json:"gets"`
	Sets              uint64        `json:"sets"`
	Reconnects        uint64        `json:"reconnects"`
	ActiveSessions    int64         `json:"active_sessions"`
	ConnectedSessions int64         `json:"connected_sessions"`
	RPS               float64       `json:"rps"`
	OverallRPS        float64       `json:"overall_rps"`
	AverageLatency    time.Duration `json:"average_latency_ns"`
	P99Latency        time.Duration `json:"p99_latency_ns"`
	ErrorRate         float64       `json:"error_rate"`
	Elapsed           time.Duration `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:     m.TotalRequests(),
		SuccessRequests:   m.SuccessRequests(),
		FailedRequests:    m.FailedRequests(),
		Gets:              m.gets.Load(),
		Sets:              m.sets.Load(),
		Reconnects:        m.Reconnects(),
		ActiveSessions:    m.ActiveSessions(),
		ConnectedSessions: m.ConnectedSessions(),
		RPS:               m.RPS(),
		OverallRPS:        m.OverallRPS(),
		AverageLatency:    m.AverageLatency(),
		P99Latency:        m.P99Latency(),
		ErrorRate:         m.ErrorRate(),
		Elapsed:           time.Since(m.startTime),
	}
}

// Report はスナップショットをフォーマットして返す
func (s Snapshot) Report() string {
	var b strings.Builder

	b.WriteString("================================================================================\n")
	b.WriteString("                              LOAD REPORT\n")
	b.WriteString("================================================================================\n")
	fmt.Fprintf(&b, "  Elapsed:          %v\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "  Total Requests:   %d (get %d, set %d)\n", s.TotalRequests, s.Gets, s.Sets)
	fmt.Fprintf(&b, "  Success:          %d\n", s.SuccessRequests)
	fmt.Fprintf(&b, "  Failed:           %d\n", s.FailedRequests)
	fmt.Fprintf(&b, "  Error Rate:       %.2f%%\n", s.ErrorRate*100)
	fmt.Fprintf(&b, "  Reconnects:       %d\n", s.Reconnects)
	fmt.Fprintf(&b, "  Overall RPS:      %.2f\n", s.OverallRPS)
	fmt.Fprintf(&b, "  Avg Latency:      %v\n", s.AverageLatency.Round(time.Microsecond))
	fmt.Fprintf(&b, "  P99 Latency:      %v\n", s.P99Latency.Round(time.Microsecond))
	b.WriteString("================================================================================")

	return b.String()
}
