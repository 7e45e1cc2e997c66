// Package job defines the data model shared by the Admission Controller, the
// Orchestrator, and the Job Monitor: the Job record itself, its frozen input
// Specification, and the intermediate/terminal artifacts the pipeline
// produces (StoryDraft, CharacterSheet, ImagePrompts, Book, Page).
package job

import "time"

// Status is the job lifecycle state. See spec.md §3 invariant (i): exactly
// one of {done-with-book, failed-with-error, in-progress} holds at any time.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ErrorCode is the closed set of stable, user-surfaceable failure codes from
// spec.md §7. Callers switch on this exhaustively rather than matching raw
// strings bubbled up from a capability port.
type ErrorCode string

const (
	ErrSafetyInput         ErrorCode = "SAFETY_INPUT"
	ErrSafetyOutput        ErrorCode = "SAFETY_OUTPUT"
	ErrLLMTimeout          ErrorCode = "LLM_TIMEOUT"
	ErrLLMJSONInvalid      ErrorCode = "LLM_JSON_INVALID"
	ErrImageTimeout        ErrorCode = "IMAGE_TIMEOUT"
	ErrImageRateLimit      ErrorCode = "IMAGE_RATE_LIMIT"
	ErrImageFailed         ErrorCode = "IMAGE_FAILED"
	ErrStorageUploadFailed ErrorCode = "STORAGE_UPLOAD_FAILED"
	ErrDBWriteFailed       ErrorCode = "DB_WRITE_FAILED"
	ErrNoCredits           ErrorCode = "NO_CREDITS"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrDailyLimit          ErrorCode = "DAILY_LIMIT"
	ErrOverloaded          ErrorCode = "OVERLOADED"
	ErrStuckTimeout        ErrorCode = "STUCK_TIMEOUT"
	ErrSLABreach           ErrorCode = "SLA_BREACH"
)

// Retryable reports whether the Orchestrator's retry machinery should attempt
// this error again within a stage's own budget (distinct from the Monitor's
// requeue of a whole stuck job).
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrLLMTimeout, ErrLLMJSONInvalid, ErrImageTimeout, ErrImageRateLimit, ErrImageFailed, ErrStorageUploadFailed:
		return true
	default:
		return false
	}
}

// AgeBand is the target audience bracket, constraining Stage C prose length.
type AgeBand string

const (
	Age3to5  AgeBand = "3-5"
	Age5to7  AgeBand = "5-7"
	Age7to9  AgeBand = "7-9"
	AgeAdult AgeBand = "adult"
)

// Style is the visual rendering style, each mapped to a fixed prompt token in
// internal/stage/style.go.
type Style string

const (
	StyleWatercolor  Style = "watercolor"
	StyleCartoon     Style = "cartoon"
	Style3D          Style = "3d"
	StylePixel       Style = "pixel"
	StyleOilPainting Style = "oil_painting"
	StyleClaymation  Style = "claymation"
	StyleRealistic   Style = "realistic"
)

const (
	MinPageCount     = 6
	MaxPageCount     = 12
	DefaultPageCount = 8
	MinUserKeyLen    = 10
	MaxTopicLen      = 200
	MaxIDLen         = 60
)

// Specification is the frozen input to a job. Immutable once the job is
// queued (spec.md §3).
type Specification struct {
	Topic              string   `json:"topic"`
	Language           string   `json:"language"`
	TargetAge          AgeBand  `json:"target_age"`
	Style              Style    `json:"style"`
	Theme              string   `json:"theme,omitempty"`
	PageCount          int      `json:"page_count"`
	CharacterID        string   `json:"character_id,omitempty"`
	CharacterIDs       []string `json:"character_ids,omitempty"`
	ForbiddenElements  []string `json:"forbidden_elements,omitempty"`
}

// ResolvedCharacterIDs implements spec.md §9 open question (c): when both
// CharacterID and CharacterIDs are present, the list wins and the singular
// is ignored.
func (s Specification) ResolvedCharacterIDs() []string {
	if len(s.CharacterIDs) > 0 {
		return s.CharacterIDs
	}
	if s.CharacterID != "" {
		return []string{s.CharacterID}
	}
	return nil
}

// ModerationVerdict is the result of a ContentModeration.classify call.
type ModerationVerdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// Job is the unit of work created by a single admission request.
type Job struct {
	JobID            string             `json:"job_id"`
	UserKey          string             `json:"user_key"`
	IdempotencyKey   string             `json:"idempotency_key,omitempty"`
	Spec             Specification      `json:"spec"`
	Status           Status             `json:"status"`
	Progress         int                `json:"progress"`
	CurrentStep      string             `json:"current_step,omitempty"`
	ModerationInput  *ModerationVerdict `json:"moderation_input,omitempty"`
	ModerationOutput *ModerationVerdict `json:"moderation_output,omitempty"`
	ErrorCode        ErrorCode          `json:"error_code,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	RetryCount       int                `json:"retry_count"`
	LastRetryAt      *time.Time         `json:"last_retry_at,omitempty"`
	BookID           string             `json:"book_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// IsTerminal reports whether the job has reached done or failed.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// StoryPage is one page of the draft/final story, 1-indexed.
type StoryPage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// StoryDraft is Stage C's output: a candidate title plus N page texts.
type StoryDraft struct {
	JobID string      `json:"job_id"`
	Title string      `json:"title"`
	Pages []StoryPage `json:"pages"`
}

// Appearance is the structured visual-identity record inside a CharacterSheet.
type Appearance struct {
	HairColor string `json:"hair_color,omitempty"`
	EyeColor  string `json:"eye_color,omitempty"`
	SkinTone  string `json:"skin_tone,omitempty"`
	Build     string `json:"build,omitempty"`
	Species   string `json:"species,omitempty"`
}

// Clothing is the structured wardrobe record inside a CharacterSheet.
type Clothing struct {
	Outfit  string `json:"outfit,omitempty"`
	Colors  string `json:"colors,omitempty"`
	Accessories string `json:"accessories,omitempty"`
}

// CharacterSheet is the stable visual identity anchor embedded in every image
// prompt to preserve consistency across cover and pages.
type CharacterSheet struct {
	CharacterID        string     `json:"character_id"`
	MasterDescription  string     `json:"master_description"`
	Appearance         Appearance `json:"appearance"`
	Clothing           Clothing   `json:"clothing"`
	PersonalityTraits  []string   `json:"personality_traits,omitempty"`
	StyleNotes         string     `json:"style_notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// ImagePrompts is Stage E's output: one prompt per page plus a cover prompt,
// each required to embed the character's MasterDescription verbatim.
type ImagePrompts struct {
	JobID          string            `json:"job_id"`
	CoverPrompt    string            `json:"cover_prompt"`
	NegativePrompt string            `json:"negative_prompt"`
	PagePrompts    map[int]string    `json:"page_prompts"`
	StyleToken     string            `json:"style_token"`
}

// Book is the terminal packaged artifact produced by Stage H.
type Book struct {
	BookID         string    `json:"book_id"`
	JobID          string    `json:"job_id"`
	Title          string    `json:"title"`
	Language       string    `json:"language"`
	TargetAge      AgeBand   `json:"target_age"`
	Style          Style     `json:"style"`
	Theme          string    `json:"theme,omitempty"`
	CharacterIDs   []string  `json:"character_ids,omitempty"`
	CoverImageURL  string    `json:"cover_image_url"`
	UserKey        string    `json:"user_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// Page is one page of a finished Book, 1-indexed.
type Page struct {
	BookID       string `json:"book_id"`
	PageNumber   int    `json:"page_number"`
	Text         string `json:"text"`
	ImageURL     string `json:"image_url"`
	ImagePrompt  string `json:"image_prompt"`
}
