package schedules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrIntervalTooShort      = errors.New("cron interval too short")
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrDuplicateID           = errors.New("duplicate schedule id")
	ErrIncomplete            = errors.New("incomplete schedule definition")
)

// Definition is the desired state of one engine schedule.
type Definition struct {
	ID         string `json:"id"`
	Cron       string `json:"cron"`
	Timezone   string `json:"timezone"`
	Workflow   string `json:"workflow"`
	TaskQueue  string `json:"task_queue"`
	WorkflowID string `json:"workflow_id"`
	Paused     bool   `json:"paused"`
}

// Fingerprint is a stable digest of the definition. It is stored in the
// schedule note so an unchanged definition can be recognised on the next
// reconcile without describing every schedule.
func (d Definition) Fingerprint() string {
	b, _ := json.Marshal(d)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

const notePrefix = "farmwise:fingerprint="

// Note renders the schedule note carrying the fingerprint.
func Note(fingerprint string) string {
	return notePrefix + fingerprint
}

// FingerprintFromNote returns "" for notes not written by the reconciler.
func FingerprintFromNote(note string) string {
	if !strings.HasPrefix(note, notePrefix) {
		return ""
	}
	return strings.TrimPrefix(note, notePrefix)
}

// Existing is a schedule as reported by the engine listing.
type Existing struct {
	ID          string
	Fingerprint string
	Paused      bool
}

// Report summarises one reconcile pass.
type Report struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}
