package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// 📨 事件信封
// =============================================================================

// Level 事件的重要程度，按 INFRASTRUCTURE < OPERATIONAL < WORKFLOW < BUSINESS 递增。
type Level string

const (
	LevelInfrastructure Level = "INFRASTRUCTURE"
	LevelOperational    Level = "OPERATIONAL"
	LevelWorkflow       Level = "WORKFLOW"
	LevelBusiness       Level = "BUSINESS"
)

// Rank returns the ordinal of the level, or -1 when the value is not recognized.
func (l Level) Rank() int {
	switch l {
	case LevelInfrastructure:
		return 0
	case LevelOperational:
		return 1
	case LevelWorkflow:
		return 2
	case LevelBusiness:
		return 3
	default:
		return -1
	}
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool { return l.Rank() >= 0 }

// Visibility 事件在节点网格中允许传播的范围。
type Visibility string

const (
	VisibilityLocal   Visibility = "LOCAL"
	VisibilityCluster Visibility = "CLUSTER"
	VisibilityPublic  Visibility = "PUBLIC"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityLocal, VisibilityCluster, VisibilityPublic:
		return true
	}
	return false
}

// 保留的 payload 键，由各 cartridge 写入派生数据。
const (
	PayloadTrustFlags     = "_trust_flags"
	PayloadEnrichment     = "_enrichment"
	PayloadClassification = "_classification"
	PayloadMesh           = "_mesh"
)

// ReservedPrefix marks payload keys owned by the pipeline.
const ReservedPrefix = "_"

// EventEnvelope 是流水线处理的最小工作单元。
type EventEnvelope struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Source     string         `json:"source"`
	Level      Level          `json:"level"`
	Domain     string         `json:"domain"`
	Entity     string         `json:"entity,omitempty"`
	Visibility Visibility     `json:"visibility"`
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
	// Origin 是首次产生该事件的节点 ID，本地事件为空。
	Origin string `json:"origin,omitempty"`
}

// NewEnvelope creates an envelope with a fresh ID and the current timestamp.
func NewEnvelope(event, source string) *EventEnvelope {
	return &EventEnvelope{
		ID:         uuid.NewString(),
		Event:      event,
		Source:     source,
		Visibility: VisibilityLocal,
		Payload:    make(map[string]any),
		Timestamp:  time.Now().UTC(),
	}
}

// Normalize fills ID, timestamp and payload when the producer left them empty.
func (e *EventEnvelope) Normalize(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
}

// Clone returns a copy whose payload map can be mutated independently.
// Nested payload values are shared.
func (e *EventEnvelope) Clone() *EventEnvelope {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		cp.Payload[k] = v
	}
	return &cp
}

// IsRemote reports whether the envelope was produced by another node.
func (e *EventEnvelope) IsRemote(localNode string) bool {
	return e.Origin != "" && e.Origin != localNode
}

// TrustFlags 返回 trust 阶段附加的标记，未标记时为 nil。
func (e *EventEnvelope) TrustFlags() []string {
	switch v := e.Payload[PayloadTrustFlags].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PublicPayload returns the payload without reserved pipeline keys.
func (e *EventEnvelope) PublicPayload() map[string]any {
	out := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		if strings.HasPrefix(k, ReservedPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Marshal 序列化信封（用于网格转发和隔离存档）。
func (e *EventEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes an envelope and guarantees a non-nil payload.
func UnmarshalEnvelope(data []byte) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Payload == nil {
		env.Payload = make(map[string]any)
	}
	return &env, nil
}

// StringField reads a payload value as a string. Non-string scalars are
// formatted, missing keys yield "".
func (e *EventEnvelope) StringField(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}
