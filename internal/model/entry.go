// Package model defines the record types shared between the local store, the
// remote store and the reconciliation engine.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Emotion is one of the fixed emotion categories a diary entry is filed under.
// The string value is the label stored on both sides.
type Emotion string

const (
	EmotionFear           Emotion = "恐怖"
	EmotionSadness        Emotion = "悲しみ"
	EmotionAnger          Emotion = "怒り"
	EmotionFrustration    Emotion = "悔しい"
	EmotionWorthlessness  Emotion = "無価値感"
	EmotionGuilt          Emotion = "罪悪感"
	EmotionLoneliness     Emotion = "寂しさ"
	EmotionShame          Emotion = "恥ずかしさ"
	EmotionJoy            Emotion = "嬉しい"
	EmotionGratitude      Emotion = "感謝"
	EmotionAccomplishment Emotion = "達成感"
	EmotionHappiness      Emotion = "幸せ"
)

// Emotions lists every valid category in display order.
var Emotions = []Emotion{
	EmotionFear,
	EmotionSadness,
	EmotionAnger,
	EmotionFrustration,
	EmotionWorthlessness,
	EmotionGuilt,
	EmotionLoneliness,
	EmotionShame,
	EmotionJoy,
	EmotionGratitude,
	EmotionAccomplishment,
	EmotionHappiness,
}

// ParseEmotion maps a user-supplied label to its category. The input is
// NFC-normalised and trimmed first so that decomposed kana from some input
// methods still match.
func ParseEmotion(s string) (Emotion, error) {
	label := Emotion(norm.NFC.String(strings.TrimSpace(s)))
	for _, e := range Emotions {
		if e == label {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown emotion %q", s)
}

// HasScores reports whether self-esteem and worthlessness scores are
// meaningful for this category.
func (e Emotion) HasScores() bool {
	return e == EmotionWorthlessness
}

// DefaultScore is written to the remote store when an entry carries no score.
const DefaultScore = 50

// DateLayout is the calendar-date format used in the dedup key.
const DateLayout = "2006-01-02"

// ParseDate validates a calendar date in [DateLayout] form and returns it
// unchanged.
func ParseDate(s string) (string, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return s, nil
}

// DiaryEntry is one journal record. The JSON layout matches the local
// journalEntries blob.
type DiaryEntry struct {
	// ID is the locally generated identifier. It is never sent as the remote
	// row id.
	ID string `json:"id"`

	// UserID is the remote owner. Empty until the entry has been migrated.
	UserID string `json:"userId,omitempty"`

	Date        string  `json:"date"`
	Emotion     Emotion `json:"emotion"`
	Event       string  `json:"event"`
	Realization string  `json:"realization"`

	// Scores are 0–100 and only meaningful for EmotionWorthlessness. Nil
	// means unset.
	SelfEsteemScore    *int `json:"selfEsteemScore,omitempty"`
	WorthlessnessScore *int `json:"worthlessnessScore,omitempty"`

	// CreatedAt is assigned by the remote store on first write.
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// DedupKey is the natural identity of an entry on the remote side.
type DedupKey struct {
	UserID  string
	Date    string
	Emotion Emotion
}

func (k DedupKey) String() string {
	return k.UserID + "/" + k.Date + "/" + string(k.Emotion)
}

// Key returns the dedup key the entry would have once owned by userID.
func (e *DiaryEntry) Key(userID string) DedupKey {
	return DedupKey{UserID: userID, Date: e.Date, Emotion: e.Emotion}
}

// ForRemote returns a copy owned by userID with absent scores set to
// [DefaultScore].
func (e *DiaryEntry) ForRemote(userID string) DiaryEntry {
	cp := *e
	cp.UserID = userID
	if cp.SelfEsteemScore == nil {
		cp.SelfEsteemScore = Score(DefaultScore)
	}
	if cp.WorthlessnessScore == nil {
		cp.WorthlessnessScore = Score(DefaultScore)
	}
	return cp
}

// Validate checks the fields a user can get wrong.
func (e *DiaryEntry) Validate() error {
	if _, err := ParseDate(e.Date); err != nil {
		return err
	}
	if _, err := ParseEmotion(string(e.Emotion)); err != nil {
		return err
	}
	for name, s := range map[string]*int{
		"selfEsteemScore":    e.SelfEsteemScore,
		"worthlessnessScore": e.WorthlessnessScore,
	} {
		if s != nil && (*s < 0 || *s > 100) {
			return fmt.Errorf("%s %d out of range 0-100", name, *s)
		}
	}
	return nil
}

// Score returns a pointer to v, for filling optional score fields.
func Score(v int) *int {
	return &v
}

// ConsentRecord is a timestamped consent or decline event. Consent records
// are kept forever.
type ConsentRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	ConsentGiven bool      `json:"consentGiven"`
	ConsentDate  time.Time `json:"consentDate"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
}

// NewID returns a fresh local identifier.
func NewID() string {
	return uuid.NewString()
}
