package wal

import (
	"os"
	"sync"
)

// writeReq is one pending append: data must land at offset within file.
type writeReq struct {
	file   *os.File
	offset int64
	data   []byte
}

// backgroundWriter drains queued appends onto disk in FIFO order on a single
// goroutine, grounded on the teacher's WALWriter.loop() channel-drain
// pattern generalized to target an arbitrary file+offset per request so
// rotation can hand off between WAL files without blocking callers.
type backgroundWriter struct {
	ch chan writeReq
	wg sync.WaitGroup

	mu      sync.Mutex
	lastErr error

	doneCh    chan struct{}
	closeOnce sync.Once
}

func newBackgroundWriter(queueCap int) *backgroundWriter {
	if queueCap <= 0 {
		queueCap = DefaultWriteQueue
	}
	w := &backgroundWriter{
		ch:     make(chan writeReq, queueCap),
		doneCh: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *backgroundWriter) loop() {
	defer close(w.doneCh)
	for req := range w.ch {
		if _, err := req.file.WriteAt(req.data, req.offset); err != nil {
			w.mu.Lock()
			w.lastErr = err
			w.mu.Unlock()
		}
		w.wg.Done()
	}
}

// enqueue schedules data to be written at offset within file. It returns
// immediately; callers that need durability call drain.
func (w *backgroundWriter) enqueue(file *os.File, offset int64, data []byte) error {
	w.wg.Add(1)
	w.ch <- writeReq{file: file, offset: offset, data: data}
	return nil
}

// drain blocks until every previously enqueued write has been applied,
// returning the first error observed (if any) and clearing it.
func (w *backgroundWriter) drain() error {
	w.wg.Wait()
	w.mu.Lock()
	err := w.lastErr
	w.lastErr = nil
	w.mu.Unlock()
	return err
}

// close drains the queue then stops the background goroutine. Safe to call
// more than once.
func (w *backgroundWriter) close() {
	w.closeOnce.Do(func() {
		_ = w.drain()
		close(w.ch)
		<-w.doneCh
	})
}
