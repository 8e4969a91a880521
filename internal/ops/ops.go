package ops

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/db"
	"github.com/hpungsan/logtrains/internal/entry"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/inference"
	"github.com/hpungsan/logtrains/internal/store"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// MaxExplainEntries bounds how many entries one explain request may combine.
const MaxExplainEntries = 50

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// EntrySummary is an entry without its body, addressed both by ID and by
// offset from the newest entry (0 = most recent).
type EntrySummary struct {
	Offset     int       `json:"offset"`
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Command    *string   `json:"command,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	ByteLength int       `json:"byte_length"`
}

func summarize(m entry.Meta, offset int) EntrySummary {
	return EntrySummary{
		Offset:     offset,
		ID:         m.ID.String(),
		CapturedAt: m.CapturedAt,
		Command:    m.Command,
		ExitCode:   m.ExitCode,
		ByteLength: m.ByteLength,
	}
}

// Address identifies one entry: by ID, or by offset from the newest.
type Address struct {
	ByID   bool
	ID     ulid.ULID
	Offset int
}

// ValidateAddress validates addressing parameters and returns an Address.
// Rules:
// - id and offset are mutually exclusive
// - neither given means offset 0 (the most recent entry)
func ValidateAddress(id string, offset *int) (*Address, error) {
	id = strings.TrimSpace(id)
	if id != "" && offset != nil {
		return nil, errors.NewInvalidRequest("specify either id or offset, not both")
	}
	if id != "" {
		parsed, err := entry.ParseID(id)
		if err != nil {
			return nil, errors.NewInvalidRequest("invalid entry id: " + id)
		}
		return &Address{ByID: true, ID: parsed}, nil
	}
	if offset == nil {
		return &Address{}, nil
	}
	if *offset < 0 {
		return nil, errors.NewInvalidRequest("offset must be >= 0")
	}
	return &Address{Offset: *offset}, nil
}

// RetentionPolicy converts the configured retention limits.
func RetentionPolicy(cfg *config.Config) store.Policy {
	p := store.Policy{MaxEntries: cfg.MaxEntries()}
	if days := cfg.MaxAgeDays(); days > 0 {
		p.MaxAge = time.Duration(days) * 24 * time.Hour
	}
	return p
}

// NewGateway returns the Ollama adapter described by cfg.
func NewGateway(cfg *config.Config) *inference.Ollama {
	return inference.NewOllama(cfg.Endpoint, inference.OllamaOptions{
		Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})
}

// OpenStore opens the entry store under baseDir with cfg's storage settings.
func OpenStore(baseDir string, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(baseDir, store.Options{CompressThreshold: cfg.CompressThresholdBytes})
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(st.Index(), cfg)
	return st, nil
}
