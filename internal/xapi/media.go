package xapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultChunkSize is the append segment size for media uploads.
	DefaultChunkSize = 4 << 20

	categoryImage = "tweet_image"
	categoryVideo = "tweet_video"

	maxStatusPolls  = 120
	defaultPollWait = 2 * time.Second
)

var (
	imageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}
	videoTypes = []string{"video/mp4", "video/quicktime"}
)

// Media is the result of content sniffing for an upload.
type Media struct {
	MIMEType string
	Category string
}

// DetectMedia sniffs data and maps it to an upload category. Only PNG, JPEG,
// GIF and WEBP images and MP4 and MOV videos are accepted.
func DetectMedia(data []byte) (Media, error) {
	if len(data) == 0 {
		return Media{}, fmt.Errorf("%w: empty file", ErrUnsupportedMedia)
	}

	m := mimetype.Detect(data)
	for _, t := range imageTypes {
		if m.Is(t) {
			return Media{MIMEType: t, Category: categoryImage}, nil
		}
	}
	for _, t := range videoTypes {
		if m.Is(t) {
			return Media{MIMEType: t, Category: categoryVideo}, nil
		}
	}
	return Media{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, m.String())
}

// UploadMedia uploads data in chunks and returns the media id once X has
// finished processing it.
func (c *Client) UploadMedia(ctx context.Context, data []byte) (string, error) {
	media, err := DetectMedia(data)
	if err != nil {
		return "", err
	}

	mediaID, err := c.initializeUpload(ctx, media, len(data))
	if err != nil {
		return "", err
	}
	slog.DebugContext(ctx, "media upload initialized", "media_id", mediaID, "type", media.MIMEType, "bytes", len(data))

	for segment, offset := 0, 0; offset < len(data); segment, offset = segment+1, offset+c.chunkSize {
		end := min(offset+c.chunkSize, len(data))
		if err := c.appendChunk(ctx, mediaID, segment, data[offset:end]); err != nil {
			return "", err
		}
	}

	info, err := c.finalizeUpload(ctx, mediaID)
	if err != nil {
		return "", err
	}
	if err := c.awaitProcessing(ctx, mediaID, info); err != nil {
		return "", err
	}
	return mediaID, nil
}

func (c *Client) initializeUpload(ctx context.Context, media Media, size int) (string, error) {
	payload := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"media_type", media.MIMEType},
		{"total_bytes", size},
		{"media_category", media.Category},
	} {
		payload, err = sjson.SetBytes(payload, kv.path, kv.value)
		if err != nil {
			return "", fmt.Errorf("encoding upload initialize: %w", err)
		}
	}

	body, err := c.do(ctx, http.MethodPost, "/2/media/upload/initialize", "application/json", payload)
	if err != nil {
		return "", fmt.Errorf("initializing media upload: %w", err)
	}

	id := gjson.GetBytes(body, "data.id").String()
	if id == "" {
		return "", errors.New("initializing media upload: response has no media id")
	}
	return id, nil
}

func (c *Client) appendChunk(ctx context.Context, mediaID string, segment int, chunk []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("segment_index", strconv.Itoa(segment)); err != nil {
		return fmt.Errorf("encoding media segment: %w", err)
	}
	part, err := w.CreateFormFile("media", "blob")
	if err != nil {
		return fmt.Errorf("encoding media segment: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("encoding media segment: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encoding media segment: %w", err)
	}

	path := "/2/media/upload/" + url.PathEscape(mediaID) + "/append"
	if _, err := c.do(ctx, http.MethodPost, path, w.FormDataContentType(), buf.Bytes()); err != nil {
		return fmt.Errorf("appending media segment %d: %w", segment, err)
	}
	return nil
}

func (c *Client) finalizeUpload(ctx context.Context, mediaID string) (gjson.Result, error) {
	path := "/2/media/upload/" + url.PathEscape(mediaID) + "/finalize"
	body, err := c.do(ctx, http.MethodPost, path, "", nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("finalizing media upload: %w", err)
	}
	return gjson.GetBytes(body, "data.processing_info"), nil
}

// awaitProcessing polls the upload status until X reports success or
// failure. Images usually carry no processing_info at all.
func (c *Client) awaitProcessing(ctx context.Context, mediaID string, info gjson.Result) error {
	for poll := 0; ; poll++ {
		if !info.Exists() {
			return nil
		}

		switch state := info.Get("state").String(); state {
		case "succeeded", "":
			return nil
		case "failed":
			msg := info.Get("error.message").String()
			if msg == "" {
				msg = "media processing failed"
			}
			return fmt.Errorf("processing media %s: %s", mediaID, msg)
		case "pending", "in_progress":
		default:
			return fmt.Errorf("processing media %s: unknown state %q", mediaID, state)
		}

		if poll >= maxStatusPolls {
			return fmt.Errorf("processing media %s: still %s after %d status checks", mediaID, info.Get("state").String(), poll)
		}

		wait := defaultPollWait
		if secs := info.Get("check_after_secs").Int(); secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		slog.DebugContext(ctx, "media still processing", "media_id", mediaID, "progress", info.Get("progress_percent").Int(), "wait", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}

		query := url.Values{"command": {"STATUS"}, "media_id": {mediaID}}
		body, err := c.do(ctx, http.MethodGet, "/2/media/upload?"+query.Encode(), "", nil)
		if err != nil {
			return fmt.Errorf("checking media status: %w", err)
		}
		info = gjson.GetBytes(body, "data.processing_info")
	}
}
