package game

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	EventBufferSize     = 1024                   // Circular buffer size
	MaxEventsPerSec     = 2000                   // Global rate limit
	MaxEventsPerAgent   = 100                    // Per-agent rate limit per second
	BatchFlushSize      = 64                     // Events per batch write
	BatchFlushInterval  = 100 * time.Millisecond // How often to flush
	AgentLimiterCleanup = 5 * time.Minute
)

// EventLog is a bounded, rate-limited JSONL event journal. Emit never
// blocks the tick: when the buffer is full the oldest events are dropped.
type EventLog struct {
	buffer    [EventBufferSize]Event
	writeHead uint64 // atomic - producer position
	readHead  uint64 // atomic - consumer position

	// A faulting agent can emit an event every tick; cap each one.
	globalLimiter *rate.Limiter
	agentLimiters sync.Map // map[string]*agentLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file   *os.File
	out    *bufio.Writer
	fileMu sync.Mutex
	log    *zap.Logger

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

type agentLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// NewEventLog creates a stopped event log.
func NewEventLog(log *zap.Logger) *EventLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventLog{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
		log:           log,
	}
}

// Start begins the async writer. An empty path keeps events in memory
// only (counted, then discarded).
func (el *EventLog) Start(path string) error {
	if el.running.Load() {
		return nil
	}

	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		el.file = file
		el.out = bufio.NewWriter(file)
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()
	return nil
}

// Stop flushes pending events and closes the file.
func (el *EventLog) Stop() {
	if !el.running.Load() {
		return
	}
	el.stopOnce.Do(func() {
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		defer el.fileMu.Unlock()
		if el.out != nil {
			if err := el.out.Flush(); err != nil {
				el.log.Warn("event log flush failed", zap.Error(err))
			}
		}
		if el.file != nil {
			el.file.Close()
		}
	})
}

// Emit adds an event. Returns false if rate limited or not running.
// Only the engine emits, always under its lock.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}
	if !el.globalLimiter.Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}
	if event.Agent != "" && !el.agentLimiter(event.Agent).Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	// Single producer: the slot is filled before the head moves, so the
	// writer never reads a half-written event.
	head := atomic.LoadUint64(&el.writeHead) + 1
	tail := atomic.LoadUint64(&el.readHead)
	if head-tail > EventBufferSize {
		atomic.AddUint64(&el.readHead, 1)
		atomic.AddUint64(&el.droppedCount, 1)
	}

	event.Sequence = head
	el.buffer[head%EventBufferSize] = event
	atomic.StoreUint64(&el.writeHead, head)
	atomic.AddUint64(&el.totalCount, 1)
	return true
}

// EmitSimple builds and emits an event.
func (el *EventLog) EmitSimple(eventType EventType, tickNum uint64, agent string, payload any) bool {
	if !el.running.Load() {
		return false
	}
	return el.Emit(NewEvent(eventType, tickNum, agent, payload))
}

func (el *EventLog) agentLimiter(agent string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := el.agentLimiters.Load(agent); ok {
		entry := v.(*agentLimiterEntry)
		entry.lastUsed.Store(now)
		return entry.limiter
	}
	entry := &agentLimiterEntry{limiter: rate.NewLimiter(MaxEventsPerAgent, MaxEventsPerAgent/10)}
	entry.lastUsed.Store(now)
	actual, _ := el.agentLimiters.LoadOrStore(agent, entry)
	return actual.(*agentLimiterEntry).limiter
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(AgentLimiterCleanup)
	defer ticker.Stop()
	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-AgentLimiterCleanup).UnixNano()
			el.agentLimiters.Range(func(key, value any) bool {
				if value.(*agentLimiterEntry).lastUsed.Load() < cutoff {
					el.agentLimiters.Delete(key)
				}
				return true
			})
		}
	}
}

func (el *EventLog) collectBatch(batch []Event) []Event {
	head := atomic.LoadUint64(&el.writeHead)
	tail := atomic.LoadUint64(&el.readHead)

	// Sequences start at 1, so slot i+1 holds the event after tail i.
	for i := tail; i < head && len(batch) < BatchFlushSize; i++ {
		batch = append(batch, el.buffer[(i+1)%EventBufferSize])
	}
	if len(batch) > 0 {
		atomic.AddUint64(&el.readHead, uint64(len(batch)))
	}
	return batch
}

func (el *EventLog) flushBatch(batch []Event) {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.out == nil {
		return
	}
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.out.Write(data)
		el.out.WriteByte('\n')
	}
	if err := el.out.Flush(); err != nil {
		el.log.Warn("event log write failed", zap.Error(err))
	}
}

// GetDroppedCount returns the number of dropped events
func (el *EventLog) GetDroppedCount() uint64 {
	return atomic.LoadUint64(&el.droppedCount)
}

// GetTotalCount returns the total number of events accepted
func (el *EventLog) GetTotalCount() uint64 {
	return atomic.LoadUint64(&el.totalCount)
}
