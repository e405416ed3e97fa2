package session

import (
	"sync"
	"time"
)

// TurnMetrics tracks latency over one conversation turn, measured from
// the moment the caller stops speaking.
type TurnMetrics struct {
	SpeechEndTime    time.Time
	FirstAudioTime   time.Time
	ResponseDoneTime time.Time

	FirstAudioLatency time.Duration
	TotalLatency      time.Duration

	AudioChunksIn  int
	AudioChunksOut int
}

// MetricsCollector records turn latencies. Goroutine-safe; usable from
// every event callback.
type MetricsCollector struct {
	mu      sync.Mutex
	current TurnMetrics
	history []TurnMetrics
}

// NewMetricsCollector creates a collector with a rolling history.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{history: make([]TurnMetrics, 0, 100)}
}

// MarkSpeechEnd starts a new turn. All latencies measure from here.
func (m *MetricsCollector) MarkSpeechEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = TurnMetrics{SpeechEndTime: time.Now()}
}

// MarkFirstAudio records the first model audio of the turn.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.FirstAudioTime.IsZero() {
		return
	}
	m.current.FirstAudioTime = time.Now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.FirstAudioLatency = m.current.FirstAudioTime.Sub(m.current.SpeechEndTime)
	}
}

// MarkResponseDone closes the turn and archives it.
func (m *MetricsCollector) MarkResponseDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ResponseDoneTime = time.Now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.TotalLatency = m.current.ResponseDoneTime.Sub(m.current.SpeechEndTime)
	}
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
}

// IncrementAudioIn counts one caller chunk forwarded to the model.
func (m *MetricsCollector) IncrementAudioIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksIn++
}

// IncrementAudioOut counts one model chunk delivered to the caller.
func (m *MetricsCollector) IncrementAudioOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksOut++
}

// Current returns the in-progress turn.
func (m *MetricsCollector) Current() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Average returns mean latencies over archived turns.
func (m *MetricsCollector) Average() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return TurnMetrics{}
	}

	var avg TurnMetrics
	for _, h := range m.history {
		avg.FirstAudioLatency += h.FirstAudioLatency
		avg.TotalLatency += h.TotalLatency
	}
	n := time.Duration(len(m.history))
	avg.FirstAudioLatency /= n
	avg.TotalLatency /= n
	return avg
}
