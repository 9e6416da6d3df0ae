// Package publish uploads finished videos to durable storage and makes them
// publicly viewable. Publishing never fails a guest: when no destination is
// configured, or the upload or permission grant fails, the artifact falls
// back to its local path and is flagged as not public.
package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/metrics"
)

// Uploader is a storage backend.
type Uploader interface {
	// Upload stores the file and returns its object identifier and a
	// viewable link.
	Upload(ctx context.Context, localPath, name, mimeType string) (objectID, link string, err error)

	// GrantPublicRead gives anonymous readers access to objectID.
	GrantPublicRead(ctx context.Context, objectID string) error
}

// Artifact describes a produced video and where it can be retrieved.
type Artifact struct {
	LocalPath string
	URL       string
	ObjectID  string
	// Public is true only when both upload and grant succeeded.
	Public bool
	// Attempted is true when an upload was tried.
	Attempted bool
	// Err is the upload or grant failure when Attempted && !Public.
	Err error
}

// Location returns the public URL when available, else the local path.
func (a Artifact) Location() string {
	if a.Public {
		return a.URL
	}
	return a.LocalPath
}

// Degraded reports whether an upload was attempted and did not produce a
// public artifact.
func (a Artifact) Degraded() bool {
	return a.Attempted && !a.Public
}

// Publisher publishes artifacts through an Uploader.
type Publisher struct {
	uploader    Uploader
	destination string
}

// New creates a Publisher. destination is the folder or bucket identifier;
// when it is empty or uploader is nil, Publish never uploads.
func New(uploader Uploader, destination string) *Publisher {
	return &Publisher{uploader: uploader, destination: strings.TrimSpace(destination)}
}

// Configured reports whether Publish will attempt uploads.
func (p *Publisher) Configured() bool {
	return p.uploader != nil && p.destination != ""
}

// Publish uploads localPath under displayName and grants public read.
func (p *Publisher) Publish(ctx context.Context, localPath, displayName string) Artifact {
	art := Artifact{LocalPath: localPath}
	if !p.Configured() {
		log.Info().Str("path", localPath).Msg("No publish destination configured, keeping local video")
		return art
	}

	art.Attempted = true
	start := time.Now()
	objectID, link, err := p.uploader.Upload(ctx, localPath, displayName, MimeType(localPath))
	if err != nil {
		art.Err = fmt.Errorf("upload: %w", err)
		p.record("upload_failed", start)
		log.Warn().Err(err).Str("name", displayName).Msg("Video upload failed, keeping local video")
		return art
	}
	art.ObjectID = objectID
	art.URL = link

	if err := p.uploader.GrantPublicRead(ctx, objectID); err != nil {
		art.Err = fmt.Errorf("grant public read: %w", err)
		p.record("grant_failed", start)
		log.Warn().Err(err).Str("objectId", objectID).Msg("Public read grant failed, keeping local video")
		return art
	}

	art.Public = true
	p.record("success", start)
	log.Info().Str("objectId", objectID).Str("url", link).Msg("Video published")
	return art
}

func (p *Publisher) record(result string, start time.Time) {
	metrics.New().
		Dimension("Result", result).
		Since("PublishMs", start).
		Count("PublishResult").
		Flush()
}

var mimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
}

// MimeType returns the video media type for path.
func MimeType(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "application/octet-stream"
}
