// Package guest defines the guest record read from the external record
// store and the narrow store interface the pipeline writes back through.
package guest

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Field names as the record store knows them.
const (
	FieldName               = "name"
	FieldRelation           = "relation"
	FieldBlessingStyle      = "blessing_style_selection"
	FieldBlessingSuggestion = "blessing_suggestion"
	FieldBlessing           = "blessing"
	FieldPhotoURL           = "photo_url"
	FieldAudioURL           = "audio_url"
	FieldVideoURL           = "video_url"
	FieldStatus             = "status"
	FieldTimestamp          = "timestamp"
	FieldEmail              = "email"
)

// Terminal statuses written by the video pipeline.
const (
	StatusVideoGenerated    = "video_generated"
	StatusVideoUploadFailed = "video_upload_failed"
	StatusVideoFailed       = "video_failed"
)

// Statuses written by the blessing writer.
const (
	StatusBlessingDone   = "blessing_done"
	StatusBlessingFailed = "blessing_failed"
)

// Record is one guest row. Row is the 0-based position among data rows,
// header excluded.
type Record struct {
	Row                int    `json:"row"`
	Name               string `json:"name"`
	Relation           string `json:"relation,omitempty"`
	BlessingStyle      string `json:"blessingStyle,omitempty"`
	BlessingSuggestion string `json:"blessingSuggestion,omitempty"`
	Blessing           string `json:"blessing,omitempty"`
	PhotoURL           string `json:"photoUrl,omitempty"`
	AudioURL           string `json:"audioUrl,omitempty"`
	VideoURL           string `json:"videoUrl,omitempty"`
	Status             string `json:"status,omitempty"`
	Email              string `json:"email,omitempty"`
	Timestamp          string `json:"timestamp,omitempty"`
}

// HasVideo reports whether the record already carries a published video.
// Only an http(s) link counts: a degraded run stores a local path there,
// and that guest stays eligible for another upload attempt.
func (r Record) HasVideo() bool {
	u, err := url.Parse(strings.TrimSpace(r.VideoURL))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// DisplayName returns the trimmed guest name, or "guest" when it is empty.
func (r Record) DisplayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return "guest"
}

// WriteBackTimeout bounds writes issued under WriteContext.
const WriteBackTimeout = 30 * time.Second

// WriteContext derives the context for recording a guest's terminal
// outcome. It keeps ctx's values but not its cancellation, so a guest
// interrupted by a cancelled batch still gets its status written.
func WriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), WriteBackTimeout)
}

// Store reads guest rows and writes single fields back.
type Store interface {
	// Guests returns every data row in store order.
	Guests(ctx context.Context) ([]Record, error)

	// WriteField sets one named field on the row at position row.
	WriteField(ctx context.Context, row int, field, value string) error
}

// Select filters records to the requested rows, preserving the order of
// rows. Rows with no matching record are returned in missing.
func Select(records []Record, rows []int) (selected []Record, missing []int) {
	byRow := make(map[int]Record, len(records))
	for _, r := range records {
		byRow[r.Row] = r
	}
	for _, row := range rows {
		r, ok := byRow[row]
		if !ok {
			missing = append(missing, row)
			continue
		}
		selected = append(selected, r)
	}
	return selected, missing
}

// AllRows returns the row positions of every record.
func AllRows(records []Record) []int {
	rows := make([]int, len(records))
	for i, r := range records {
		rows[i] = r.Row
	}
	return rows
}
