package uploader

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/vistoria/fieldsync/internal/media"
	"github.com/vistoria/fieldsync/internal/models"
	"github.com/vistoria/fieldsync/internal/observability"
)

const maxBackoffDelay = 30 * time.Second

// ObjectStorage moves one locally-referenced image to remote object storage
// and returns its durable download URL. Implementations tag failures with
// an ErrorKind so retry policy can dispatch on it.
type ObjectStorage interface {
	Put(ctx context.Context, localRef, remotePath string, progress func(float64)) (string, error)
}

// Checker gates retries on backend reachability
type Checker interface {
	Check(ctx context.Context) bool
}

// Options configures an upload. The zero value gets sensible defaults:
// 3 extra attempts, 1s base delay, exponential backoff, batches of 3.
type Options struct {
	MaxRetries    int
	RetryDelay    time.Duration
	FixedDelay    bool // exponential backoff unless set
	ReconnectWait time.Duration
	BatchSize     int

	// Progress receives fractional progress for a single upload,
	// 0.0 at read start up to 1.0 on completion. Optional.
	Progress func(fraction float64)

	// OnBatch reports per-batch completion counts during UploadMany.
	// Optional; must not block.
	OnBatch func(batch, totalBatches, succeeded, failed int)

	// Completed holds remote URLs of items that already succeeded in a
	// prior pass, keyed by input index. Those items are skipped.
	Completed map[int]string
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 3
	}
	return o
}

// Uploader is the photo upload engine: per-item retry with backoff,
// batched concurrency, and partial-failure tracking
type Uploader struct {
	storage ObjectStorage
	checker Checker
	sleep   func(time.Duration)
	metrics *observability.SyncMetrics
}

// New creates an Uploader. checker may be nil, in which case connectivity
// is assumed and never re-probed between retries.
func New(storage ObjectStorage, checker Checker) *Uploader {
	return &Uploader{
		storage: storage,
		checker: checker,
		sleep:   time.Sleep,
	}
}

// SetSleep overrides the backoff delay function (test support)
func (u *Uploader) SetSleep(sleep func(time.Duration)) {
	u.sleep = sleep
}

// SetMetrics attaches optional upload metrics
func (u *Uploader) SetMetrics(m *observability.SyncMetrics) {
	u.metrics = m
}

// backoffDelay returns the delay before the nth retry (1-based)
func backoffDelay(opts Options, retry int) time.Duration {
	if opts.FixedDelay {
		return opts.RetryDelay
	}
	delay := opts.RetryDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= maxBackoffDelay {
			return maxBackoffDelay
		}
	}
	if delay > maxBackoffDelay {
		delay = maxBackoffDelay
	}
	return delay
}

// UploadOne uploads a single image with bounded retry. A localRef that is
// neither an existing file nor a recognized data URI fails immediately
// without consuming retry budget, as do permission and quota errors.
// Before each retry connectivity is re-probed; when it is confirmed lost
// the engine waits once and rechecks, then gives up rather than retrying
// against a known-dead link.
func (u *Uploader) UploadOne(ctx context.Context, localRef, remotePath string, opts Options) models.UploadOutcome {
	opts = opts.withDefaults()

	ctx, span := observability.StartUploadSpan(ctx, remotePath)
	defer span.End()

	if !media.IsDataURI(localRef) {
		if _, err := os.Stat(localRef); err != nil {
			observability.RecordError(span, err)
			return models.UploadFailure(
				fmt.Sprintf("local photo does not exist: %s", localRef), 0)
		}
	}

	if opts.Progress != nil {
		opts.Progress(0)
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.AddEvent(span, "retry", observability.Attempt(attempt))
			if u.metrics != nil {
				u.metrics.RecordUploadRetry(ctx)
			}
			u.sleep(backoffDelay(opts, attempt))

			if u.checker != nil && !u.checker.Check(ctx) {
				u.sleep(opts.ReconnectWait)
				if !u.checker.Check(ctx) {
					return models.UploadFailure(
						fmt.Sprintf("connection lost during upload of %s", remotePath),
						attempt)
				}
			}
		}

		url, err := u.storage.Put(ctx, localRef, remotePath, opts.Progress)
		if err == nil {
			if opts.Progress != nil {
				opts.Progress(1)
			}
			observability.SetSuccess(span)
			return models.UploadSuccess(url, attempt+1)
		}

		lastErr = err
		kind := Classify(err)
		observability.WithFields(map[string]interface{}{
			"remote_path": remotePath,
			"attempt":     attempt + 1,
			"error_kind":  kind.String(),
		}).Warnf("upload attempt failed: %v", err)

		if !kind.Retryable() {
			observability.RecordError(span, err)
			return models.UploadFailure(err.Error(), attempt+1)
		}
	}

	observability.RecordError(span, lastErr)
	return models.UploadFailure(lastErr.Error(), opts.MaxRetries+1)
}

type itemResult struct {
	index int
	url   string
	err   string
}

// UploadMany uploads a list of images in fixed-size batches. Items within
// a batch run concurrently; batches run sequentially. Connectivity is
// re-checked before every batch after the first; once it is confirmed
// lost, every remaining unprocessed item is marked failed and the engine
// stops instead of attempting uploads it knows cannot succeed.
//
// The returned URLs hold successful uploads only, in input order with
// failed slots omitted; failures are reported through FailedIndexes.
func (u *Uploader) UploadMany(ctx context.Context, localRefs []string, remotePath func(index int) string, opts Options) models.BatchUploadResult {
	opts = opts.withDefaults()

	results := make(map[int]itemResult, len(localRefs))
	itemOpts := Options{
		MaxRetries:    opts.MaxRetries,
		RetryDelay:    opts.RetryDelay,
		FixedDelay:    opts.FixedDelay,
		ReconnectWait: opts.ReconnectWait,
	}

	totalBatches := (len(localRefs) + opts.BatchSize - 1) / opts.BatchSize

	for start := 0; start < len(localRefs); start += opts.BatchSize {
		batchNum := start/opts.BatchSize + 1

		if start > 0 && u.checker != nil && !u.checker.Check(ctx) {
			u.sleep(opts.ReconnectWait)
			if !u.checker.Check(ctx) {
				for i := start; i < len(localRefs); i++ {
					if url, done := opts.Completed[i]; done {
						results[i] = itemResult{index: i, url: url}
						continue
					}
					results[i] = itemResult{index: i, err: "connection lost before upload"}
				}
				break
			}
		}

		end := start + opts.BatchSize
		if end > len(localRefs) {
			end = len(localRefs)
		}

		// Each goroutine reports its own result over the channel; nothing
		// shared is written across concurrent branches.
		ch := make(chan itemResult, end-start)
		launched := 0
		for i := start; i < end; i++ {
			if url, done := opts.Completed[i]; done {
				results[i] = itemResult{index: i, url: url}
				continue
			}
			launched++
			go func(i int) {
				outcome := u.UploadOne(ctx, localRefs[i], remotePath(i), itemOpts)
				if outcome.Success {
					ch <- itemResult{index: i, url: outcome.URL}
				} else {
					ch <- itemResult{index: i, err: outcome.Error}
				}
			}(i)
		}

		succeeded, failed := 0, 0
		for j := 0; j < launched; j++ {
			r := <-ch
			results[r.index] = r
			if r.err == "" {
				succeeded++
			} else {
				failed++
			}
		}

		if opts.OnBatch != nil {
			opts.OnBatch(batchNum, totalBatches, succeeded, failed)
		}
	}

	return assembleBatchResult(len(localRefs), results)
}

func assembleBatchResult(total int, results map[int]itemResult) models.BatchUploadResult {
	out := models.BatchUploadResult{Errors: []string{}}

	indexes := make([]int, 0, len(results))
	for i := range results {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		r := results[i]
		if r.err == "" {
			out.URLs = append(out.URLs, r.url)
		} else {
			out.FailedIndexes = append(out.FailedIndexes, i)
			out.Errors = append(out.Errors, fmt.Sprintf("photo %d: %s", i, r.err))
		}
	}

	out.Success = len(out.FailedIndexes) == 0
	out.PartialSuccess = len(out.URLs) > 0 && len(out.FailedIndexes) > 0
	return out
}
