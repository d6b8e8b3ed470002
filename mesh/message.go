package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/eventflow/types"
)

// ProtocolVersion 当前消息格式版本
const ProtocolVersion = 1

// KindEnvelope 承载一个信封的消息
const KindEnvelope = "envelope"

var (
	// ErrMalformedMessage 消息无法解码
	ErrMalformedMessage = errors.New("malformed mesh message")
	// ErrUnsupportedVersion 对方使用了不兼容的协议版本
	ErrUnsupportedVersion = errors.New("unsupported mesh protocol version")
)

// Message 节点之间传输的包装消息
type Message struct {
	Version  int             `json:"v"`
	Kind     string          `json:"kind"`
	From     string          `json:"from"`
	Cluster  string          `json:"cluster,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
	Envelope json.RawMessage `json:"envelope"`
}

// Encode 包装并序列化信封
func Encode(env *types.EventEnvelope, from, cluster string, now time.Time) ([]byte, error) {
	inner, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return json.Marshal(Message{
		Version:  ProtocolVersion,
		Kind:     KindEnvelope,
		From:     from,
		Cluster:  cluster,
		SentAt:   now.UTC(),
		Envelope: inner,
	})
}

// Decode 解析包装消息并取出内层信封
func Decode(data []byte) (*Message, *types.EventEnvelope, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Version != ProtocolVersion {
		return &msg, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, msg.Version)
	}
	if msg.Kind != KindEnvelope || len(msg.Envelope) == 0 {
		return &msg, nil, fmt.Errorf("%w: unexpected kind %q", ErrMalformedMessage, msg.Kind)
	}

	env, err := types.UnmarshalEnvelope(msg.Envelope)
	if err != nil {
		return &msg, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Event == "" {
		return &msg, env, fmt.Errorf("%w: envelope has no event type", ErrMalformedMessage)
	}
	return &msg, env, nil
}
