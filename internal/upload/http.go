package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

const uploadTimeout = 60 * time.Second

// HTTPUploader posts attachments to the media service as a single
// multipart request and reads back their public URLs.
type HTTPUploader struct {
	client *http.Client
	url    string
}

func NewHTTPUploader(url string) *HTTPUploader {
	return &HTTPUploader{
		client: &http.Client{Timeout: uploadTimeout},
		url:    url,
	}
}

type uploadResponse struct {
	Urls []string `json:"urls"`
}

func (u *HTTPUploader) UploadMany(ctx context.Context, items []Item) ([]string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, item := range items {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, item.Name))
		hdr.Set("Content-Type", item.ContentType)

		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, fmt.Errorf("failed to create part for %s: %w", item.Name, err)
		}
		if _, err := part.Write(item.Data); err != nil {
			return nil, fmt.Errorf("failed to write part for %s: %w", item.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if len(ur.Urls) != len(items) {
		return nil, fmt.Errorf("upload returned %d urls for %d items", len(ur.Urls), len(items))
	}

	return ur.Urls, nil
}
