package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vistoria/fieldsync/internal/models"
	"github.com/vistoria/fieldsync/internal/observability"
	"github.com/vistoria/fieldsync/internal/uploader"
)

// connCheckInterval is how many records are processed between mid-run
// connectivity re-probes
const connCheckInterval = 3

// lastSyncBlobKey is where the timestamp of the last successful run lives
const lastSyncBlobKey = "lastSyncAt"

// Store is the slice of the local record store the orchestrator needs
type Store interface {
	ListByStatus(ctx context.Context, status models.RecordStatus) ([]models.InspectionRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.RecordStatus, errMsg string) error
	ReplacePhotos(ctx context.Context, id string, photos []models.PhotoReference) error
	Finalize(ctx context.Context, id string) error
	SaveBlob(ctx context.Context, key, value string) error
}

// Prober gates and monitors backend reachability
type Prober interface {
	Check(ctx context.Context) bool
	CheckWithRetry(ctx context.Context, attempts int, delay time.Duration) (bool, models.ConnectionQuality)
}

// PhotoUploader moves a record's photos to remote storage
type PhotoUploader interface {
	UploadMany(ctx context.Context, localRefs []string, remotePath func(index int) string, opts uploader.Options) models.BatchUploadResult
}

// Submitter pushes processed records to the backend in one call
type Submitter interface {
	SubmitPending(ctx context.Context, req models.BulkSyncRequest) (*models.BulkSyncResponse, error)
}

// Options tunes a single orchestrator invocation
type Options struct {
	// Force attempts the run even when the connectivity gate reports
	// the backend unreachable
	Force bool

	// Progress receives human-readable status messages. Invoked
	// synchronously; must not block.
	Progress func(message string)

	// OnBatch forwards per-batch upload completion counts
	OnBatch func(batch, totalBatches, succeeded, failed int)
}

func (o Options) report(format string, args ...interface{}) {
	if o.Progress != nil {
		o.Progress(fmt.Sprintf(format, args...))
	}
}

// Config tunes the orchestrator's probing and upload policy
type Config struct {
	ProbeAttempts int
	ProbeDelay    time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	FixedDelay    bool
	ReconnectWait time.Duration
	BatchSize     int
}

type runMode string

const (
	modeSync  runMode = "sync"
	modeRetry runMode = "retry"
)

// Orchestrator drives the end-to-end sync flow: connectivity gate, pending
// record discovery, validation, photo upload, bulk submission, and local
// reconciliation. It is the only component with business-flow knowledge.
//
// Public entry points never return Go errors: every outcome, including a
// recovered panic, is expressed in the returned SyncResult. A single
// invocation runs at a time; a concurrent call gets a busy result instead
// of queuing.
type Orchestrator struct {
	store   Store
	prober  Prober
	upload  PhotoUploader
	client  Submitter
	cfg     Config
	metrics *observability.SyncMetrics

	running atomic.Bool

	// statFile overrides photo file existence checks in tests
	statFile func(path string) bool
}

// New creates an Orchestrator
func New(store Store, prober Prober, upload PhotoUploader, client Submitter, cfg Config) *Orchestrator {
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = 3
	}
	if cfg.ProbeDelay <= 0 {
		cfg.ProbeDelay = 2 * time.Second
	}
	return &Orchestrator{
		store:  store,
		prober: prober,
		upload: upload,
		client: client,
		cfg:    cfg,
		statFile: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// SetMetrics attaches optional sync metrics
func (o *Orchestrator) SetMetrics(m *observability.SyncMetrics) {
	o.metrics = m
}

// gateResult carries an already-measured connectivity gate so entry points
// that probe before delegating do not probe twice
type gateResult struct {
	reachable bool
	quality   models.ConnectionQuality
}

// SyncPendingInspections submits every record currently in pending status.
// Records already in error are left alone; they need an explicit retry.
func (o *Orchestrator) SyncPendingInspections(ctx context.Context, opts Options) models.SyncResult {
	return o.guarded(ctx, modeSync, opts, nil)
}

// RetryFailedInspections re-runs the sync machinery over records in error
// status. A record whose local photo files have gone missing is skipped
// and stays in error rather than being resubmitted with broken references.
func (o *Orchestrator) RetryFailedInspections(ctx context.Context, opts Options) models.SyncResult {
	return o.guarded(ctx, modeRetry, opts, nil)
}

// AutoSync adds a user confirmation step when connection quality is rated
// poor, then delegates to the ordinary sync flow. The gate is probed once;
// the quality the user confirmed is the quality the run reports. confirm
// may be nil, in which case a poor connection is accepted silently.
func (o *Orchestrator) AutoSync(ctx context.Context, confirm func(models.ConnectionQuality) bool, opts Options) models.SyncResult {
	reachable, quality := o.prober.CheckWithRetry(ctx, o.cfg.ProbeAttempts, o.cfg.ProbeDelay)
	if !reachable && !opts.Force {
		return models.FailedSyncResult("server unreachable", models.QualityNone)
	}
	if quality == models.QualityPoor && confirm != nil && !confirm(quality) {
		return models.FailedSyncResult("sync cancelled: connection quality is poor", models.QualityPoor)
	}
	return o.guarded(ctx, modeSync, opts, &gateResult{reachable: reachable, quality: quality})
}

// guarded wraps a run with the single-flight guard and panic recovery
func (o *Orchestrator) guarded(ctx context.Context, mode runMode, opts Options, gate *gateResult) (result models.SyncResult) {
	if !o.running.CompareAndSwap(false, true) {
		return models.FailedSyncResult("sync already in progress", models.QualityNone)
	}
	defer o.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			observability.Errorf("sync run panicked: %v", r)
			result = models.FailedSyncResult(
				fmt.Sprintf("internal sync error: %v", r), models.QualityNone)
		}
	}()

	start := time.Now()
	ctx, span := observability.StartSyncSpan(ctx, string(mode))
	defer span.End()

	result = o.run(ctx, mode, opts, gate)

	span.SetAttributes(
		observability.RecordCount(result.Synced+result.Failed),
		observability.Quality(string(result.ConnectionQuality)),
		observability.Duration(time.Since(start)),
	)
	if o.metrics != nil {
		o.metrics.RecordRun(ctx, string(mode), result.Synced, result.Failed,
			float64(time.Since(start).Milliseconds()))
	}
	return result
}

func (o *Orchestrator) run(ctx context.Context, mode runMode, opts Options, gate *gateResult) models.SyncResult {
	log := observability.WithContext(ctx).WithField("mode", string(mode))

	// Gate: no point spending battery and bandwidth on a doomed attempt
	var reachable bool
	var quality models.ConnectionQuality
	if gate != nil {
		reachable, quality = gate.reachable, gate.quality
	} else {
		reachable, quality = o.prober.CheckWithRetry(ctx, o.cfg.ProbeAttempts, o.cfg.ProbeDelay)
	}
	if !reachable {
		if !opts.Force {
			log.Warn("backend unreachable, aborting sync")
			return models.FailedSyncResult("server unreachable", models.QualityNone)
		}
		log.Warn("backend unreachable, forced attempt requested")
	}

	// Records stuck in synced are already acknowledged by the server; a
	// crash interrupted their removal. Finish the removal, never resubmit.
	if leftovers, err := o.store.ListByStatus(ctx, models.StatusSynced); err == nil {
		for _, r := range leftovers {
			if err := o.store.Finalize(ctx, r.ID); err != nil {
				log.Warnf("failed to finalize acknowledged record %s: %v", r.ID, err)
			}
		}
	}

	tally := &runTally{quality: quality}

	records, err := o.discover(ctx, mode, opts, tally)
	if err != nil {
		return models.FailedSyncResult(
			fmt.Sprintf("failed to read pending records: %v", err), quality)
	}

	if len(records) == 0 && tally.failed == 0 {
		opts.report("%s: nothing to submit", mode)
		return models.EmptySyncResult(quality)
	}

	working := o.processRecords(ctx, mode, records, opts, tally)

	if len(working) > 0 {
		o.submit(ctx, working, opts, tally)
	}

	if tally.synced > 0 {
		if err := o.store.SaveBlob(ctx, lastSyncBlobKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Warnf("failed to persist last sync timestamp: %v", err)
		}
	}

	log.WithFields(map[string]interface{}{
		"synced": tally.synced,
		"failed": tally.failed,
	}).Info("sync run finished")

	return tally.result()
}

// runTally accumulates per-invocation outcome counts. Units of work are
// records plus individual photo uploads; partial success means at least
// one unit succeeded while at least one failed, the same definition for
// every entry point.
type runTally struct {
	synced        int
	failed        int
	photoFailures int
	errors        []string
	quality       models.ConnectionQuality
}

func (t *runTally) addError(format string, args ...interface{}) {
	t.errors = append(t.errors, fmt.Sprintf(format, args...))
}

func (t *runTally) result() models.SyncResult {
	if t.errors == nil {
		t.errors = []string{}
	}
	unitFailures := t.failed + t.photoFailures
	return models.SyncResult{
		Success:           unitFailures == 0,
		Synced:            t.synced,
		Failed:            t.failed,
		Errors:            t.errors,
		PartialSuccess:    t.synced > 0 && unitFailures > 0,
		ConnectionQuality: t.quality,
	}
}

// discover collects the records this run will process. Ordinary runs take
// status pending only. Retry runs take status error, verify that every
// referenced local photo still exists, and reset survivors to pending.
func (o *Orchestrator) discover(ctx context.Context, mode runMode, opts Options, tally *runTally) ([]models.InspectionRecord, error) {
	if mode != modeRetry {
		return o.store.ListByStatus(ctx, models.StatusPending)
	}

	errored, err := o.store.ListByStatus(ctx, models.StatusError)
	if err != nil {
		return nil, err
	}

	var records []models.InspectionRecord
	for _, rec := range errored {
		if missing := o.missingPhotos(rec); len(missing) > 0 {
			msg := fmt.Sprintf("photo files no longer on device: %s", strings.Join(missing, ", "))
			if err := o.store.UpdateStatus(ctx, rec.ID, models.StatusError, msg); err != nil {
				observability.Warnf("failed to record skip reason for %s: %v", rec.ID, err)
			}
			tally.failed++
			tally.addError("%s: %s", rec.ID, msg)
			opts.report("retry: skipping %s, %s", rec.ID, msg)
			continue
		}

		if err := o.store.UpdateStatus(ctx, rec.ID, models.StatusPending, ""); err != nil {
			tally.failed++
			tally.addError("%s: failed to reset for retry: %v", rec.ID, err)
			continue
		}
		rec.Status = models.StatusPending
		rec.ErrorMessage = ""
		records = append(records, rec)
	}
	return records, nil
}

// isRemoteRef reports whether a photo reference already points at uploaded
// remote storage rather than an on-device source
func isRemoteRef(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// missingPhotos returns the local file references of rec that no longer
// exist on device. Inline data URIs and already-uploaded http(s) URLs
// cannot go missing.
func (o *Orchestrator) missingPhotos(rec models.InspectionRecord) []string {
	var missing []string
	for _, p := range rec.Photos {
		if strings.HasPrefix(p.LocalURI, "data:") || isRemoteRef(p.LocalURI) {
			continue
		}
		if !o.statFile(p.LocalURI) {
			missing = append(missing, p.LocalURI)
		}
	}
	return missing
}

// processRecords validates each record and uploads its photos, returning
// the working list ready for bulk submission. Records are processed
// sequentially; concurrency exists only inside a single record's photo
// batch.
func (o *Orchestrator) processRecords(ctx context.Context, mode runMode, records []models.InspectionRecord, opts Options, tally *runTally) []models.InspectionRecord {
	var working []models.InspectionRecord
	lost := false

	for i := range records {
		rec := records[i]

		// Mid-run connectivity checkpoint. Once the link is confirmed
		// lost, remaining records are failed without attempting calls
		// that would only time out.
		if !lost && i > 0 && i%connCheckInterval == 0 && !o.prober.Check(ctx) {
			lost = true
		}
		if lost {
			o.markError(ctx, rec.ID, "connection lost during sync", tally)
			continue
		}

		opts.report("%s: processing inspection %d of %d", mode, i+1, len(records))

		if err := rec.Validate(); err != nil {
			o.markError(ctx, rec.ID, fmt.Sprintf("invalid record: %v", err), tally)
			continue
		}

		if len(rec.Photos) > 0 {
			ok := o.uploadPhotos(ctx, &rec, opts, tally)
			if !ok {
				continue
			}
		}

		working = append(working, rec)
	}
	return working
}

// uploadPhotos uploads rec's photos and rewrites its photo list with the
// remote URLs. Returns false when the upload failed outright and the
// record was marked errored.
//
// Photos that already carry a remote URL, left behind by a run whose
// uploads succeeded but whose submission failed, are handed to the engine
// as completed so a retry never re-uploads or re-validates them as local
// files.
func (o *Orchestrator) uploadPhotos(ctx context.Context, rec *models.InspectionRecord, opts Options, tally *runTally) bool {
	completed := make(map[int]string)
	for i, p := range rec.Photos {
		if isRemoteRef(p.LocalURI) {
			completed[i] = p.LocalURI
		}
	}

	recID := rec.ID
	batch := o.upload.UploadMany(ctx, rec.PhotoURIs(), func(i int) string {
		return fmt.Sprintf("inspections/%s/photo_%d.jpg", recID, i)
	}, uploader.Options{
		MaxRetries:    o.cfg.MaxRetries,
		RetryDelay:    o.cfg.RetryDelay,
		FixedDelay:    o.cfg.FixedDelay,
		ReconnectWait: o.cfg.ReconnectWait,
		BatchSize:     o.cfg.BatchSize,
		OnBatch:       opts.OnBatch,
		Completed:     completed,
	})

	if len(batch.URLs) == 0 {
		msg := "photo upload failed"
		if len(batch.Errors) > 0 {
			msg = fmt.Sprintf("photo upload failed: %s", strings.Join(batch.Errors, "; "))
		}
		o.markError(ctx, rec.ID, msg, tally)
		return false
	}

	if !batch.Success {
		tally.photoFailures += len(batch.FailedIndexes)
		for _, e := range batch.Errors {
			tally.addError("%s: %s", rec.ID, e)
		}
	}

	rec.Photos = remotePhotoRefs(*rec, batch)
	if err := o.store.ReplacePhotos(ctx, rec.ID, rec.Photos); err != nil {
		observability.Warnf("failed to persist uploaded photo urls for %s: %v", rec.ID, err)
	}
	return true
}

// remotePhotoRefs pairs successful upload URLs with their original
// comments. URLs arrive in input order with failed slots omitted, so the
// pairing walks the original list skipping failed indexes.
func remotePhotoRefs(rec models.InspectionRecord, batch models.BatchUploadResult) []models.PhotoReference {
	failed := make(map[int]bool, len(batch.FailedIndexes))
	for _, i := range batch.FailedIndexes {
		failed[i] = true
	}

	refs := make([]models.PhotoReference, 0, len(batch.URLs))
	next := 0
	for i, p := range rec.Photos {
		if failed[i] {
			continue
		}
		if next >= len(batch.URLs) {
			break
		}
		refs = append(refs, models.PhotoReference{LocalURI: batch.URLs[next], Comment: p.Comment})
		next++
	}
	return refs
}

// submit pushes the working list in one bulk call and reconciles local
// state from the per-item acknowledgements
func (o *Orchestrator) submit(ctx context.Context, working []models.InspectionRecord, opts Options, tally *runTally) {
	opts.report("submitting %d inspections", len(working))

	req := models.BulkSyncRequest{
		PendingInspections: working,
		VistoriadorID:      working[0].VistoriadorID,
		EmpresaID:          working[0].EmpresaID,
	}

	resp, err := o.client.SubmitPending(ctx, req)
	if err != nil {
		// A record is never synced until the server acknowledged its
		// metadata, photos in storage or not.
		for _, rec := range working {
			o.markError(ctx, rec.ID, fmt.Sprintf("submission failed: %v", err), tally)
		}
		return
	}

	acked := make(map[string]bool, len(working))

	for _, res := range resp.Results {
		acked[res.LocalID] = true
		if err := o.store.Finalize(ctx, res.LocalID); err != nil {
			// The server considers the record synced; leave it for the
			// leftover sweep on the next run rather than resubmitting.
			observability.Errorf("failed to finalize %s after acknowledgement: %v", res.LocalID, err)
		}
		tally.synced++
	}

	for _, e := range resp.Errors {
		acked[e.InspectionID] = true
		// The server's message is preserved verbatim for user visibility
		o.markError(ctx, e.InspectionID, e.Error, tally)
	}

	for _, rec := range working {
		if !acked[rec.ID] {
			o.markError(ctx, rec.ID, "no acknowledgement from server", tally)
		}
	}
}

func (o *Orchestrator) markError(ctx context.Context, id, msg string, tally *runTally) {
	if err := o.store.UpdateStatus(ctx, id, models.StatusError, msg); err != nil {
		observability.Errorf("failed to mark %s as errored: %v", id, err)
	}
	tally.failed++
	tally.addError("%s: %s", id, msg)
}
