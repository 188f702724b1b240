package engine

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	auditBufferSize     = 1024                   // circular buffer slots
	auditMaxPerSec      = 10000                  // global record rate limit
	auditMaxPerActor    = 100                    // per-actor records per second
	auditFlushInterval  = 100 * time.Millisecond // async writer cadence
	auditActorCleanup   = 5 * time.Minute        // stale actor limiter sweep
	auditActorStaleness = 10 * time.Minute
)

// AuditLog is a bounded, rate-limited JSONL trail of engine events.
// It is an operational record, not state persistence: the engine never
// reads it back, and losing records under load is acceptable (oldest
// records are dropped first, with a counter).
type AuditLog struct {
	// Circular buffer, single consumer (writer loop)
	buffer    [auditBufferSize]AuditRecord
	writeHead uint64 // atomic
	readHead  uint64 // atomic

	globalLimiter *rate.Limiter
	actorLimiters sync.Map // map[string]*actorLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file   *os.File
	fileMu sync.Mutex

	dropped uint64 // atomic
	total   uint64 // atomic
}

type actorLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewAuditLog creates an audit log; Start must be called before records
// are accepted.
func NewAuditLog() *AuditLog {
	return &AuditLog{
		globalLimiter: rate.NewLimiter(auditMaxPerSec, auditMaxPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start opens the output file and launches the writer and cleanup loops
func (a *AuditLog) Start(filePath string) error {
	if a.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		a.file = file
	}

	a.running.Store(true)
	a.writerWg.Add(2)
	go a.writerLoop()
	go a.cleanupLoop()
	return nil
}

// Stop flushes and shuts down. Idempotent.
func (a *AuditLog) Stop() {
	a.stopOnce.Do(func() {
		a.running.Store(false)
		close(a.stopChan)
		a.writerWg.Wait()

		a.fileMu.Lock()
		if a.file != nil {
			a.file.Close()
		}
		a.fileMu.Unlock()
	})
}

// Record appends one record, subject to rate limits and buffer bounds.
// Returns false when the record was dropped.
func (a *AuditLog) Record(rec AuditRecord) bool {
	if !a.running.Load() {
		return false
	}

	if !a.globalLimiter.Allow() {
		atomic.AddUint64(&a.dropped, 1)
		return false
	}

	// Per-actor limit keeps one noisy actor from flooding the trail
	if rec.ActorID != "" {
		if !a.actorLimiter(rec.ActorID).Allow() {
			atomic.AddUint64(&a.dropped, 1)
			return false
		}
	}

	head := atomic.AddUint64(&a.writeHead, 1)
	tail := atomic.LoadUint64(&a.readHead)

	// Full buffer: advance the tail, dropping the oldest record
	if head-tail >= auditBufferSize {
		atomic.AddUint64(&a.readHead, 1)
		atomic.AddUint64(&a.dropped, 1)
	}

	rec.Sequence = head
	a.buffer[head%auditBufferSize] = rec

	atomic.AddUint64(&a.total, 1)
	return true
}

// Stats returns total and dropped record counts
func (a *AuditLog) Stats() (total, dropped uint64) {
	return atomic.LoadUint64(&a.total), atomic.LoadUint64(&a.dropped)
}

func (a *AuditLog) actorLimiter(actorID string) *rate.Limiter {
	if entry, ok := a.actorLimiters.Load(actorID); ok {
		e := entry.(*actorLimiterEntry)
		e.lastUsed = time.Now()
		return e.limiter
	}

	entry := &actorLimiterEntry{
		limiter:  rate.NewLimiter(auditMaxPerActor, auditMaxPerActor/4),
		lastUsed: time.Now(),
	}
	actual, _ := a.actorLimiters.LoadOrStore(actorID, entry)
	return actual.(*actorLimiterEntry).limiter
}

// writerLoop drains the buffer to the file on a fixed cadence
func (a *AuditLog) writerLoop() {
	defer a.writerWg.Done()

	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			a.flush() // final drain
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

// flush writes all unread records as JSON lines
func (a *AuditLog) flush() {
	if a.file == nil {
		// No file configured: consume the buffer so heads don't diverge
		atomic.StoreUint64(&a.readHead, atomic.LoadUint64(&a.writeHead))
		return
	}

	a.fileMu.Lock()
	defer a.fileMu.Unlock()

	head := atomic.LoadUint64(&a.writeHead)
	for tail := atomic.LoadUint64(&a.readHead); tail < head; tail = atomic.AddUint64(&a.readHead, 1) {
		rec := a.buffer[(tail+1)%auditBufferSize]
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		a.file.Write(append(line, '\n'))
	}
}

// cleanupLoop sweeps actor limiters that have gone quiet
func (a *AuditLog) cleanupLoop() {
	defer a.writerWg.Done()

	ticker := time.NewTicker(auditActorCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-auditActorStaleness)
			a.actorLimiters.Range(func(key, value any) bool {
				if value.(*actorLimiterEntry).lastUsed.Before(cutoff) {
					a.actorLimiters.Delete(key)
				}
				return true
			})
		}
	}
}
