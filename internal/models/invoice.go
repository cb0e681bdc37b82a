package models

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an invoice.
//
//	UPLOADED -> PROCESSING -> REVIEWING -> CONFIRMED -> REIMBURSED
//	                       \> CONFIRMED            \> NOT_REIMBURSED
//
// PENDING is a legacy alias still present in old rows; it is read as
// UPLOADED and never written.
type Status string

const (
	StatusUploaded      Status = "UPLOADED"
	StatusProcessing    Status = "PROCESSING"
	StatusReviewing     Status = "REVIEWING"
	StatusConfirmed     Status = "CONFIRMED"
	StatusReimbursed    Status = "REIMBURSED"
	StatusNotReimbursed Status = "NOT_REIMBURSED"
	StatusPending       Status = "PENDING"
)

// Normalize maps legacy states onto their current equivalent.
func (s Status) Normalize() Status {
	if s == StatusPending {
		return StatusUploaded
	}
	return s
}

var transitions = map[Status][]Status{
	StatusUploaded:   {StatusProcessing},
	StatusProcessing: {StatusReviewing, StatusConfirmed, StatusUploaded},
	StatusReviewing:  {StatusConfirmed, StatusProcessing},
	StatusConfirmed:  {StatusReimbursed, StatusNotReimbursed, StatusProcessing},
}

// CanTransition reports whether moving from s to next is legal. Reprocessing
// re-enters PROCESSING from any pre-reimbursement state.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s.Normalize()] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Invoice is one uploaded document moving through the digitization pipeline.
type Invoice struct {
	ID         string            `json:"id"`
	FileName   string            `json:"file_name"`
	ObjectKey  string            `json:"object_key"`
	Kind       string            `json:"kind"`
	Status     Status            `json:"status"`
	Fields     map[string]string `json:"fields,omitempty"`
	Confidence float64           `json:"confidence"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ExtractionResult is the output of one pipeline run (rule-based or LLM).
type ExtractionResult struct {
	ID         string            `json:"id"`
	InvoiceID  string            `json:"invoice_id"`
	Pipeline   string            `json:"pipeline"` // "ocr" or "llm"
	Fields     map[string]string `json:"fields"`
	RawText    string            `json:"raw_text,omitempty"`
	Confidence float64           `json:"confidence"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ParsingDiff is the field-level comparison record between the two
// pipelines. FinalValue is the auto-resolved value (empty on conflict) and
// ResolvedValue is a later manual resolution.
type ParsingDiff struct {
	ID            string    `json:"id"`
	InvoiceID     string    `json:"invoice_id"`
	Field         string    `json:"field"`
	OCRValue      string    `json:"ocr_value"`
	LLMValue      string    `json:"llm_value"`
	FinalValue    string    `json:"final_value,omitempty"`
	Source        string    `json:"source"` // matched, ocr, llm or conflict
	NeedsReview   bool      `json:"needs_review"`
	ResolvedValue string    `json:"resolved_value,omitempty"`
	ResolvedBy    string    `json:"resolved_by,omitempty"` // "ocr", "llm" or "manual"
	CreatedAt     time.Time `json:"created_at"`
}

// FlowResult is one immutable version of a schema-driven extraction. A new
// run or a correction always appends a row with Version = prior max + 1.
type FlowResult struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	Version       int             `json:"version"`
	SchemaName    string          `json:"schema_name"`
	Result        json.RawMessage `json:"result"`
	Status        string          `json:"status"` // success, review_required, error
	LineageErrors []string        `json:"lineage_errors,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DataOrigin marks who produced a value.
type DataOrigin int

const (
	OriginSystem DataOrigin = 0
	OriginUser   DataOrigin = 1
)

// ReasonCode classifies why a field was corrected.
type ReasonCode int

const (
	ReasonIncorrect  ReasonCode = 1
	ReasonMissing    ReasonCode = 2
	ReasonExtra      ReasonCode = 3
	ReasonFormat     ReasonCode = 4
	ReasonDataSource ReasonCode = 5
	ReasonOther      ReasonCode = 99
)

// FieldAudit is one audit trail entry for a single field change.
type FieldAudit struct {
	ID        string     `json:"id"`
	InvoiceID string     `json:"invoice_id"`
	Version   int        `json:"version"`
	FieldPath string     `json:"field_path"`
	OldValue  string     `json:"old_value"`
	NewValue  string     `json:"new_value"`
	Origin    DataOrigin `json:"origin"`
	Reason    ReasonCode `json:"reason"`
	Actor     string     `json:"actor"`
	CreatedAt time.Time  `json:"created_at"`
}

// Config is the service configuration loaded from config.yaml with env
// overrides.
type Config struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	OCR      OCRConfig      `yaml:"ocr"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Auth     AuthConfig     `yaml:"auth"`
	RAG      RAGConfig      `yaml:"rag"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxConns        int    `yaml:"max_conns"`
	MinConns        int    `yaml:"min_conns"`
	MaxConnLifetime string `yaml:"max_conn_lifetime"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type OCRConfig struct {
	Binary    string `yaml:"binary"`    // tesseract binary path
	Languages string `yaml:"languages"` // e.g. "chi_sim+eng"
}

type AIConfig struct {
	DefaultProvider string       `yaml:"default_provider"` // "openai" or "gemini"
	OpenAI          OpenAIConfig `yaml:"openai"`
	Gemini          GeminiConfig `yaml:"gemini"`
}

type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url,omitempty"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

type GeminiConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

type PipelineConfig struct {
	OCRWorkers     int `yaml:"ocr_workers"`
	LLMWorkers     int `yaml:"llm_workers"`
	QueueSize      int `yaml:"queue_size"`
	MaxRetries     int `yaml:"max_retries"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type TokensConfig struct {
	PromptBudget    int `yaml:"prompt_budget"`
	EmbeddingBudget int `yaml:"embedding_budget"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Disabled  bool   `yaml:"disabled"`
}

type RAGConfig struct {
	MaxExamples       int     `yaml:"max_examples"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
}
