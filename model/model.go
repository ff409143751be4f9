package model

import "time"

// Field types supported by the schema validator.
const (
	FieldText     = "text"
	FieldSelect   = "select"
	FieldCheckbox = "checkbox"
)

// Process types.
const (
	ProcessLinear = "linear"
	ProcessFree   = "free"
)

// Report types.
const (
	ReportSummary  = "summary"
	ReportDetailed = "detailed"
)

// Report schedule types.
const (
	ScheduleManual  = "manual"
	ScheduleWeekly  = "weekly"
	ScheduleMonthly = "monthly"
)

// Report delivery methods.
const (
	DeliveryEmail = "email"
)

// Entity kinds for category links.
const (
	EntityForm    = "form"
	EntityProcess = "process"
)

type Form struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedBy   int64     `json:"created_by,omitempty"`
	IsPublic    bool      `json:"is_public"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`

	// AccessSecret is only ever populated on input; the stored value
	// is a bcrypt hash and never leaves the access package.
	AccessSecret string `json:"access_secret,omitempty"`

	Fields []Field `json:"fields,omitempty"`
}

type Field struct {
	ID       string       `json:"id,omitempty"`
	FormID   string       `json:"form_id,omitempty"`
	Label    string       `json:"label"`
	Type     string       `json:"type"`
	Required bool         `json:"required"`
	Options  FieldOptions `json:"options"`
	Position int          `json:"position,omitempty"`
}

// FieldOptions is stored as a JSON TEXT column. Choices is only
// meaningful for select/checkbox fields.
type FieldOptions struct {
	Choices []string `json:"choices,omitempty"`
}

type Process struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	CreatedBy   int64     `json:"created_by,omitempty"`
	IsPublic    bool      `json:"is_public"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`

	AccessSecret string `json:"access_secret,omitempty"`

	Steps []Step `json:"steps,omitempty"`
}

type Step struct {
	ID          string `json:"id,omitempty"`
	ProcessID   string `json:"process_id,omitempty"`
	FormID      string `json:"form_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Position    int    `json:"position,omitempty"`
	Mandatory   bool   `json:"mandatory"`
}

type Response struct {
	ID          string    `json:"id"`
	FormID      string    `json:"form_id"`
	StepID      string    `json:"step_id,omitempty"`
	SubmittedBy *int64    `json:"submitted_by,omitempty"`
	Respondent  string    `json:"-"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`

	Answers []Answer `json:"answers,omitempty"`
}

type Answer struct {
	ID         string `json:"id"`
	ResponseID string `json:"response_id,omitempty"`
	FieldID    string `json:"field_id"`
	FieldLabel string `json:"field_label,omitempty"`
	Value      string `json:"value"`
}

// FormView is an append-only analytics event.
type FormView struct {
	ID        int64     `json:"id"`
	FormID    string    `json:"form_id"`
	ViewedBy  *int64    `json:"viewed_by,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	ViewedAt  time.Time `json:"viewed_at"`
}

type Report struct {
	ID           int64      `json:"id"`
	FormID       string     `json:"form_id"`
	Type         string     `json:"type"`
	ScheduleType string     `json:"schedule_type"`
	Delivery     string     `json:"delivery_method"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	IsActive     bool       `json:"is_active"`
}

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// CategoryLink tags a form or a process with a category. EntityKind
// is the {form, process} tagged union at the boundary; the ordering
// and workflow cores never see categories.
type CategoryLink struct {
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	CategoryID int64  `json:"category_id"`
}
