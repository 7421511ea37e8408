// Package uploader delivers composited segments to the remote
// transcoding endpoint and seals the recorded asset on finalize.
// Host side only.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/metrics"
)

// ChunkResult is one entry of the per-session sequence log. Failed
// chunks leave a content gap in the recording but never a sequence gap.
type ChunkResult struct {
	Seq        uint64
	Delivered  bool
	Attempts   int
	FinishedAt time.Time
}

// Uploader pushes chunks in sequence order on a best-effort basis: a
// chunk that exhausts its retry budget is reported and dropped so later
// chunks are never stalled behind it.
type Uploader struct {
	cfg       config.UploadConfig
	sessionID string
	client    *fasthttp.Client

	mu     sync.Mutex
	log    []ChunkResult
	sealed bool

	OnUploaded func(seq uint64)
	OnError    func(seq uint64, err error)
}

func New(cfg config.UploadConfig, sessionID string) *Uploader {
	return &Uploader{
		cfg:       cfg,
		sessionID: sessionID,
		client: &fasthttp.Client{
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
		},
	}
}

// Run consumes the compositor's hand-off queue until it is closed or
// ctx is cancelled. Each chunk is uploaded with its own retry budget.
func (u *Uploader) Run(ctx context.Context, chunks <-chan domain.Chunk) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if err := u.Upload(chunk); err != nil {
				slog.Error("chunk dropped", "seq", chunk.Seq, "error", err)
			}
		}
	}
}

// Upload sends one chunk, retrying with doubling backoff up to the
// configured attempt budget. Failure is reported through OnError and
// recorded in the sequence log; it never blocks subsequent chunks.
func (u *Uploader) Upload(chunk domain.Chunk) error {
	started := time.Now()
	url := fmt.Sprintf("%s/ingest/%s/chunks/%d", u.cfg.Endpoint, u.sessionID, chunk.Seq)

	var lastErr error
	backoff := u.cfg.InitialBackoff
	attempts := 0
	for attempts < u.cfg.MaxAttempts {
		attempts++
		if err := u.post(url, chunk.Payload); err != nil {
			lastErr = err
			slog.Warn("chunk upload attempt failed", "seq", chunk.Seq, "attempt", attempts, "error", err)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		u.record(ChunkResult{Seq: chunk.Seq, Delivered: true, Attempts: attempts, FinishedAt: time.Now()})
		metrics.ChunksUploadedTotal.Inc()
		metrics.ChunkUploadDuration.Observe(time.Since(started).Seconds())
		if u.OnUploaded != nil {
			u.OnUploaded(chunk.Seq)
		}
		return nil
	}

	u.record(ChunkResult{Seq: chunk.Seq, Delivered: false, Attempts: attempts, FinishedAt: time.Now()})
	metrics.ChunksFailedTotal.Inc()
	err := fmt.Errorf("%w: seq %d after %d attempts: %v", domain.ErrUploadFailed, chunk.Seq, attempts, lastErr)
	if u.OnError != nil {
		u.OnError(chunk.Seq, err)
	}
	return err
}

func (u *Uploader) post(url string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/octet-stream")
	req.SetBody(body)

	if err := u.client.DoTimeout(req, resp, u.cfg.RequestTimeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("endpoint returned %d", code)
	}
	return nil
}

// Finalize seals the uploaded chunks into a playable asset. Idempotent:
// re-finalizing an already-sealed asset (locally or at the endpoint,
// which answers 409) is a success no-op.
func (u *Uploader) Finalize() error {
	u.mu.Lock()
	if u.sealed {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	url := fmt.Sprintf("%s/ingest/%s/finalize", u.cfg.Endpoint, u.sessionID)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)

	if err := u.client.DoTimeout(req, resp, u.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFinalizeFailed, err)
	}
	code := resp.StatusCode()
	if (code < 200 || code >= 300) && code != fasthttp.StatusConflict {
		return fmt.Errorf("%w: endpoint returned %d", domain.ErrFinalizeFailed, code)
	}

	u.mu.Lock()
	u.sealed = true
	u.mu.Unlock()
	slog.Info("recorded asset sealed", "sessionID", u.sessionID)
	return nil
}

// SequenceLog returns the delivery outcome per emitted sequence number.
func (u *Uploader) SequenceLog() []ChunkResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]ChunkResult, len(u.log))
	copy(out, u.log)
	return out
}

func (u *Uploader) Sealed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sealed
}

func (u *Uploader) record(res ChunkResult) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.log = append(u.log, res)
}
