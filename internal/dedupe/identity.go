package dedupe

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/baitlab/scambaiter/internal/core"
)

// Identity strategies. A channel-origin message id is the only identifier
// trusted across batches; everything else falls back to a content signature
// that promises uniqueness only within one batch.
const (
	StrategyChannelMessageID = "channel_message_id"
	StrategyOriginSignature  = "origin_signature"
)

// Meta keys carried on forwarded events.
const (
	MetaForwardIdentity = "forward_identity"
	MetaOriginKind      = "origin_kind"
	MetaOriginDateUTC   = "origin_date_utc"
	MetaOriginMessageID = "origin_message_id"
	MetaSenderUser      = "sender_user"
	MetaSenderChat      = "sender_chat"
	MetaSenderUserName  = "sender_user_name"
	MetaMediaMarker     = "media_marker"
	MetaRevisionOfKey   = "revision_of_forward_identity_key"
	MetaRevisionReason  = "revision_reason"
)

// Identity is the dedup key for one forwarded event.
type Identity struct {
	Strategy   string `json:"strategy"`
	Key        string `json:"key"`
	OriginKind string `json:"origin_kind,omitempty"`
}

// ResolveIdentity derives the identity key for an incoming forwarded event
// from its origin metadata. Channel origins with a native message id get a
// stable `channel:{chat_id}:{message_id}` key; everything else gets a sha1
// signature over the stable content attributes.
func ResolveIdentity(ev core.Event) Identity {
	originKind := ev.MetaString(MetaOriginKind)

	if originID, ok := metaInt(ev.Meta, MetaOriginMessageID); ok {
		if chatID, ok := nestedInt(ev.Meta, MetaSenderChat, "id"); ok {
			return Identity{
				Strategy:   StrategyChannelMessageID,
				Key:        fmt.Sprintf("channel:%d:%d", chatID, originID),
				OriginKind: originKind,
			}
		}
	}

	senderUserID, _ := nestedInt(ev.Meta, MetaSenderUser, "id")
	senderChatID, _ := nestedInt(ev.Meta, MetaSenderChat, "id")

	payload := map[string]any{
		"origin_kind":      originKind,
		"origin_date_utc":  ev.MetaString(MetaOriginDateUTC),
		"sender_user_id":   nullableInt(ev.Meta, MetaSenderUser, senderUserID),
		"sender_chat_id":   nullableInt(ev.Meta, MetaSenderChat, senderChatID),
		"sender_user_name": nullableString(ev.MetaString(MetaSenderUserName)),
		"event_type":       string(ev.Type),
		"text":             nullableString(ev.Text),
		"media_marker":     nullableString(ev.MetaString(MetaMediaMarker)),
	}
	// json.Marshal sorts map keys, so the signature is deterministic.
	raw, _ := json.Marshal(payload)
	return Identity{
		Strategy:   StrategyOriginSignature,
		Key:        "sig:" + sha1Hex(raw),
		OriginKind: originKind,
	}
}

// SourceMessageID renders the store-level dedup identifier for a forwarded
// event: `fwd:v2:{strategy}:{key_digest}:{event_type}:{text_digest}`.
func SourceMessageID(id Identity, eventType core.EventType, text string) string {
	keyDigest := sha1Hex([]byte(id.Key))[:16]
	textDigest := sha1Hex([]byte(text))[:16]
	return fmt.Sprintf("fwd:v2:%s:%s:%s:%s", id.Strategy, keyDigest, eventType, textDigest)
}

// IdentityKeyOf extracts the identity key recorded on a stored event, falling
// back to legacy markers for rows written before identity metadata existed.
func IdentityKeyOf(ev core.Event) string {
	if ev.Meta != nil {
		if fi, ok := ev.Meta[MetaForwardIdentity].(map[string]any); ok {
			if key, ok := fi["key"].(string); ok && key != "" {
				return key
			}
		}
		if originID, ok := metaInt(ev.Meta, MetaOriginMessageID); ok {
			return fmt.Sprintf("legacy_origin:%d", originID)
		}
	}
	if ev.SourceMessageID != "" {
		return "legacy_source:" + ev.SourceMessageID
	}
	return ""
}

// StampIdentity records the resolved identity on the event's meta and sets
// its source message id. Returns a copy; the input is not mutated.
func StampIdentity(ev core.Event, id Identity) core.Event {
	meta := make(map[string]any, len(ev.Meta)+1)
	for k, v := range ev.Meta {
		meta[k] = v
	}
	meta[MetaForwardIdentity] = map[string]any{
		"strategy":    id.Strategy,
		"key":         id.Key,
		"origin_kind": id.OriginKind,
	}
	ev.Meta = meta
	ev.SourceMessageID = SourceMessageID(id, ev.Type, ev.Text)
	return ev
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func metaInt(meta map[string]any, key string) (int64, bool) {
	if meta == nil {
		return 0, false
	}
	return asInt(meta[key])
}

func nestedInt(meta map[string]any, outer, inner string) (int64, bool) {
	if meta == nil {
		return 0, false
	}
	nested, ok := meta[outer].(map[string]any)
	if !ok {
		return 0, false
	}
	return asInt(nested[inner])
}

// asInt accepts the integer shapes JSON decoding produces.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableInt(meta map[string]any, outer string, v int64) any {
	if _, ok := nestedInt(meta, outer, "id"); !ok {
		return nil
	}
	return v
}
