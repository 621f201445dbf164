package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/vistoria/fieldsync/internal/media"
	"github.com/vistoria/fieldsync/internal/models"
	"github.com/vistoria/fieldsync/internal/uploader"
)

// HTTPObjectStorage implements uploader.ObjectStorage over the backend's
// multipart photo upload endpoint. Failures are tagged with an ErrorKind
// at this boundary so retry policy never has to inspect message text.
type HTTPObjectStorage struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	deviceID     string
	client       *http.Client
	preparer     *media.Preparer
}

// StorageConfig configures the upload transport
type StorageConfig struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	DeviceID     string
	Timeout      time.Duration

	// Preparer re-encodes images before upload; nil uploads raw bytes
	Preparer *media.Preparer
}

// NewHTTPObjectStorage creates the HTTP upload transport
func NewHTTPObjectStorage(cfg StorageConfig) *HTTPObjectStorage {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPObjectStorage{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		deviceID:     cfg.DeviceID,
		client:       &http.Client{Timeout: cfg.Timeout},
		preparer:     cfg.Preparer,
	}
}

// Put uploads one locally-referenced image to the given remote path and
// returns the download URL the backend issues for it
func (s *HTTPObjectStorage) Put(ctx context.Context, localRef, remotePath string, progress func(float64)) (string, error) {
	data, err := media.Load(localRef)
	if err != nil {
		return "", uploader.NewUploadError(uploader.KindInvalidSource,
			fmt.Errorf("read photo source: %w", err))
	}

	dateTaken := time.Now().UTC()
	if s.preparer != nil {
		prepared, exifDate, err := s.preparer.Prepare(data)
		if err != nil {
			return "", uploader.NewUploadError(uploader.KindInvalidSource,
				fmt.Errorf("prepare photo: %w", err))
		}
		data = prepared
		if !exifDate.IsZero() {
			dateTaken = exifDate
		}
	}

	body, contentType, err := s.buildMultipart(data, remotePath, dateTaken)
	if err != nil {
		return "", uploader.NewUploadError(uploader.KindUnknown, err)
	}

	var reqBody io.Reader = bytes.NewReader(body)
	if progress != nil {
		reqBody = &progressReader{r: bytes.NewReader(body), total: int64(len(body)), report: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/photos/upload", reqBody)
	if err != nil {
		return "", uploader.NewUploadError(uploader.KindUnknown, err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(s.apiKeyHeader, s.apiKey)
	if s.deviceID != "" {
		req.Header.Set("X-Device-ID", s.deviceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", uploader.NewUploadError(uploader.KindNetwork,
			fmt.Errorf("upload request: %w", err))
	}
	defer resp.Body.Close()

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		msg := readErrorBody(resp.Body)
		return "", uploader.NewUploadError(kind,
			fmt.Errorf("upload rejected with %d: %s", resp.StatusCode, msg))
	}

	var result models.StorageUploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", uploader.NewUploadError(uploader.KindUnknown,
			fmt.Errorf("decode upload response: %w", err))
	}
	if result.URL == "" {
		return "", uploader.NewUploadError(uploader.KindUnknown,
			fmt.Errorf("upload response carried no url"))
	}
	return result.URL, nil
}

func (s *HTTPObjectStorage) buildMultipart(data []byte, remotePath string, dateTaken time.Time) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", path.Base(remotePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"path":             remotePath,
		"originalFilename": path.Base(remotePath),
		"dateTaken":        dateTaken.Format(time.RFC3339),
		"fileHash":         media.Hash(data),
	}
	if s.deviceID != "" {
		fields["deviceId"] = s.deviceID
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func classifyStatus(code int) (uploader.ErrorKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return 0, false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return uploader.KindPermission, true
	case code == http.StatusRequestEntityTooLarge || code == http.StatusTooManyRequests || code == http.StatusInsufficientStorage:
		return uploader.KindQuota, true
	case code >= 500:
		return uploader.KindNetwork, true
	default:
		return uploader.KindUnknown, true
	}
}

func readErrorBody(r io.Reader) string {
	var errResp models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return "no error detail"
}

// progressReader reports fractional read progress of the request body
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.sent += int64(n)
		fraction := float64(p.sent) / float64(p.total)
		if fraction > 1 {
			fraction = 1
		}
		p.report(fraction)
	}
	return n, err
}
