package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HLS transcoding states for a journal's video.
const (
	HLSStatusPending    = "pending"
	HLSStatusProcessing = "processing"
	HLSStatusCompleted  = "completed"
	HLSStatusFailed     = "failed"
)

type User struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	Journals   []Journal   `gorm:"foreignKey:UserID" json:"journals,omitempty"`
	Notes      []Note      `gorm:"foreignKey:UserID" json:"notes,omitempty"`
	Templates  []Template  `gorm:"foreignKey:UserID" json:"templates,omitempty"`
	DailyMoods []DailyMood `gorm:"foreignKey:UserID" json:"daily_moods,omitempty"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Journal is a single video journal entry. Most foreign keys in the
// schema hang off this table.
type Journal struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`

	Title         string  `gorm:"not null" json:"title"`
	VideoPath     string  `json:"video_path"`
	ThumbnailPath string  `json:"thumbnail_path"`
	Duration      float64 `json:"duration"`

	HLSPath   string `json:"hls_path"`
	HLSStatus string `gorm:"default:'pending'" json:"hls_status"`

	Mood         string  `json:"mood"`
	Emotion      string  `json:"emotion"`
	EmotionScore float64 `json:"emotion_score"`

	Transcript *Transcript  `gorm:"foreignKey:JournalID" json:"transcript,omitempty"`
	Tags       []JournalTag `gorm:"foreignKey:JournalID" json:"tags,omitempty"`
}

func (j *Journal) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

// Note is a text note. Notes form a tree via ParentID and are
// soft-deletable.
type Note struct {
	ID        string         `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`

	Title    string  `gorm:"not null" json:"title"`
	Content  string  `gorm:"type:text" json:"content"`
	Icon     string  `json:"icon"`
	Color    string  `json:"color"`
	Position int     `gorm:"default:0" json:"position"`
	ParentID *string `gorm:"type:uuid;index" json:"parent_id"`

	Parent   *Note   `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	Children []*Note `gorm:"foreignKey:ParentID" json:"children,omitempty"`
}

func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// JournalNote links a journal to a note (many-to-many).
type JournalNote struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	JournalID string `gorm:"type:uuid;not null;index" json:"journal_id"`
	NoteID    string `gorm:"type:uuid;not null;index" json:"note_id"`

	Journal Journal `gorm:"foreignKey:JournalID" json:"-"`
	Note    Note    `gorm:"foreignKey:NoteID" json:"-"`
}

func (jn *JournalNote) BeforeCreate(tx *gorm.DB) error {
	if jn.ID == "" {
		jn.ID = uuid.NewString()
	}
	return nil
}

type Template struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`

	Title   string `gorm:"not null" json:"title"`
	Content string `gorm:"type:text" json:"content"`
	Icon    string `json:"icon"`
	Color   string `json:"color"`
}

func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// DailyMood records one mood check-in. One logical row per
// (user, date, time of day).
type DailyMood struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `gorm:"type:uuid;not null;uniqueIndex:idx_daily_moods_user_date_tod,priority:1" json:"user_id"`

	Date      time.Time `gorm:"type:date;not null;uniqueIndex:idx_daily_moods_user_date_tod,priority:2" json:"date"`
	Mood      string    `gorm:"type:varchar(32);not null" json:"mood"`
	TimeOfDay string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_daily_moods_user_date_tod,priority:3" json:"time_of_day"`
	Notes     string    `gorm:"type:text" json:"notes"`
}

func (m *DailyMood) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscriptSegments []TranscriptSegment

func (s TranscriptSegments) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *TranscriptSegments) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, s)
	case string:
		return json.Unmarshal([]byte(data), s)
	default:
		return errors.New("unsupported type for transcript segments")
	}
}

// Transcript is the speech-to-text output for one journal (1:1).
type Transcript struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	JournalID string `gorm:"type:uuid;not null;uniqueIndex" json:"journal_id"`

	Text     string             `gorm:"type:text" json:"text"`
	Segments TranscriptSegments `gorm:"type:jsonb" json:"segments"`
}

func (t *Transcript) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// JournalTag is a free-form tag attached to a journal.
type JournalTag struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	JournalID string `gorm:"type:uuid;not null;index" json:"journal_id"`
	Tag       string `gorm:"not null" json:"tag"`
}

func (t *JournalTag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
