// Package store keeps a ledger of guest results per batch run in DynamoDB.
//
// All entries for a batch share a partition key (BATCH#{batchId}); the sort
// key is GUEST#{row} zero-padded so a Query returns guests in row order. A
// TTL attribute (expiresAt) removes entries after LedgerTTL.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/guest-avatar/internal/pipeline"
)

// LedgerTTL is how long ledger entries are kept.
const LedgerTTL = 30 * 24 * time.Hour

const (
	pkPrefix = "BATCH#"
	skPrefix = "GUEST#"
)

// Entry is one guest result as stored in the ledger.
type Entry struct {
	BatchID        string `dynamodbav:"-" json:"batchId"`
	Row            int    `dynamodbav:"row" json:"row"`
	Name           string `dynamodbav:"name" json:"name"`
	Success        bool   `dynamodbav:"success" json:"success"`
	Status         string `dynamodbav:"status,omitempty" json:"status,omitempty"`
	Artifact       string `dynamodbav:"artifact,omitempty" json:"artifact,omitempty"`
	Public         bool   `dynamodbav:"public" json:"public"`
	AudioSource    string `dynamodbav:"audioSource,omitempty" json:"audioSource,omitempty"`
	Kind           string `dynamodbav:"kind,omitempty" json:"kind,omitempty"`
	Message        string `dynamodbav:"message,omitempty" json:"message,omitempty"`
	WriteBackError string `dynamodbav:"writeBackError,omitempty" json:"writeBackError,omitempty"`
	Session        string `dynamodbav:"session,omitempty" json:"session,omitempty"`
	DurationMs     int64  `dynamodbav:"durationMs" json:"durationMs"`
	RecordedAt     int64  `dynamodbav:"recordedAt" json:"recordedAt"`
}

// EntryFromResult converts a pipeline result.
func EntryFromResult(batchID string, r pipeline.Result, now time.Time) Entry {
	return Entry{
		BatchID:        batchID,
		Row:            r.Row,
		Name:           r.Name,
		Success:        r.Success,
		Status:         r.Status,
		Artifact:       r.Artifact,
		Public:         r.Public,
		AudioSource:    r.AudioSource,
		Kind:           string(r.Kind),
		Message:        r.Message,
		WriteBackError: r.WriteBackError,
		Session:        r.Session,
		DurationMs:     r.Duration.Milliseconds(),
		RecordedAt:     now.Unix(),
	}
}

func batchPK(batchID string) string {
	return pkPrefix + batchID
}

func guestSK(row int) string {
	return fmt.Sprintf("%s%06d", skPrefix, row)
}

// rowFromSK parses the row out of a guest sort key.
func rowFromSK(sk string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(sk, skPrefix))
	if err != nil || !strings.HasPrefix(sk, skPrefix) {
		return 0, fmt.Errorf("invalid ledger sort key %q", sk)
	}
	return n, nil
}
