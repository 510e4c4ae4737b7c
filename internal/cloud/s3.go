package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dbvault/internal/config"
	"dbvault/internal/logging"
)

// S3Store talks to Amazon S3 or any S3-compatible endpoint over plain
// HTTP with Signature V4 request signing.
type S3Store struct {
	bucket         string
	region         string
	endpoint       string
	forcePathStyle bool
	signer         *Signer
	client         *http.Client
	logger         *logging.Logger
	now            func() time.Time
}

func NewS3Store(cfg *config.S3Config, logger *logging.Logger) *S3Store {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
	}

	return &S3Store{
		bucket:         cfg.Bucket,
		region:         cfg.Region,
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		forcePathStyle: cfg.ForcePathStyle || cfg.Endpoint != "",
		signer:         NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.Region),
		client:         &http.Client{Timeout: 5 * time.Minute},
		logger:         logger,
		now:            time.Now,
	}
}

// objectURL builds the request URL for a key. Custom endpoints always
// use path-style addressing; AWS defaults to virtual-hosted style.
func (s *S3Store) objectURL(key string) string {
	if s.forcePathStyle {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("%s://%s.%s/%s", u.Scheme, s.bucket, u.Host, key)
}

// Test verifies the bucket is reachable with the configured
// credentials. A 404 on the test object still proves connectivity
// and auth, so it passes.
func (s *S3Store) Test(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(".dbvault-connectivity-test"), nil)
	if err != nil {
		return fmt.Errorf("failed to build test request: %w", err)
	}
	s.signer.Sign(req, UnsignedPayload, s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("s3 endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("s3 connectivity test failed with status %d", resp.StatusCode)
}

// Upload stores an object with the backup metadata attached as
// x-amz-meta headers.
func (s *S3Store) Upload(ctx context.Context, key string, body []byte, meta ObjectMetadata) UploadResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), bytes.NewReader(body))
	if err != nil {
		return UploadResult{Error: fmt.Sprintf("failed to build upload request: %v", err)}
	}

	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	if meta.BackupCode != "" {
		req.Header.Set("x-amz-meta-backup-code", meta.BackupCode)
	}
	if meta.BackupType != "" {
		req.Header.Set("x-amz-meta-backup-type", meta.BackupType)
	}
	if meta.Checksum != "" {
		req.Header.Set("x-amz-meta-checksum", meta.Checksum)
	}

	sum := sha256.Sum256(body)
	s.signer.Sign(req, hex.EncodeToString(sum[:]), s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return UploadResult{Error: fmt.Sprintf("upload failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return UploadResult{Error: fmt.Sprintf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))}
	}

	return UploadResult{Success: true, Key: key, URL: s.objectURL(key)}
}

// Download fetches an object's bytes.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	s.signer.Sign(req, UnsignedPayload, s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("object %s not found", key)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Delete removes an object. Deleting a missing object succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	s.signer.Sign(req, UnsignedPayload, s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound &&
		(resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
	return nil
}

// List returns the object keys under a prefix using the V2 list API.
func (s *S3Store) List(ctx context.Context, prefix string) ListResult {
	base := s.endpoint
	if s.forcePathStyle {
		base = fmt.Sprintf("%s/%s", s.endpoint, s.bucket)
	} else {
		u, err := url.Parse(s.endpoint)
		if err == nil {
			base = fmt.Sprintf("%s://%s.%s", u.Scheme, s.bucket, u.Host)
		}
	}

	listURL := fmt.Sprintf("%s/?list-type=2&prefix=%s", base, url.QueryEscape(prefix))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return ListResult{Error: fmt.Sprintf("failed to build list request: %v", err)}
	}
	s.signer.Sign(req, UnsignedPayload, s.now())

	resp, err := s.client.Do(req)
	if err != nil {
		return ListResult{Error: fmt.Sprintf("list failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ListResult{Error: fmt.Sprintf("list failed with status %d", resp.StatusCode)}
	}

	keys, err := parseListKeys(resp.Body)
	if err != nil {
		return ListResult{Error: fmt.Sprintf("failed to parse list response: %v", err)}
	}
	return ListResult{Keys: keys}
}

// parseListKeys scans a ListBucketResult document for <Key> elements.
// It tolerates the surrounding schema so both AWS and S3-compatible
// servers parse the same way.
func parseListKeys(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)

	var keys []string
	var inKey bool
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			inKey = t.Name.Local == "Key"
		case xml.CharData:
			if inKey {
				keys = append(keys, string(t))
			}
		case xml.EndElement:
			inKey = false
		}
	}
	return keys, nil
}
