package contract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/baitlab/scambaiter/internal/core"
)

const (
	maxActions        = 10
	maxMessageChars   = 4000
	maxTypingSeconds  = 60
	maxWaitSeconds    = 86400
	maxWaitMinutes    = 10080
)

// waitLatencyMap translates latency-class shorthand to canonical durations.
var waitLatencyMap = map[string]core.Wait{
	"short":  {Value: 30, Unit: core.WaitSeconds},
	"medium": {Value: 3, Unit: core.WaitMinutes},
	"long":   {Value: 15, Unit: core.WaitMinutes},
}

// typingClassSeconds translates duration-class shorthand for typing.
var typingClassSeconds = map[string]float64{
	"short":  5,
	"medium": 15,
}

// normalizeShape rewrites the tolerated shorthand forms into the canonical
// {"type": ...} object without validating parameters yet.
func normalizeShape(action any) map[string]any {
	obj, ok := action.(map[string]any)
	if !ok {
		return nil
	}

	if _, has := obj["type"]; has {
		normalized := cloneMap(obj)
		kind := strings.TrimSpace(asString(normalized["type"]))
		// Dotted alias: {"type":"send_message","message.text":"..."}.
		if kind == string(core.ActionSendMessage) {
			if dotted, has := normalized["message.text"]; has {
				delete(normalized, "message.text")
				msg, _ := normalized["message"].(map[string]any)
				if msg == nil {
					msg = map[string]any{}
				}
				if _, has := msg["text"]; !has {
					msg["text"] = dotted
				}
				normalized["message"] = msg
			}
		}
		return normalized
	}

	// Alias: {"action":"send_message", ...}.
	if kind, ok := obj["action"].(string); ok {
		if isKnownKind(kind) {
			normalized := cloneMap(obj)
			delete(normalized, "action")
			normalized["type"] = strings.TrimSpace(kind)
			return normalized
		}
	}

	// Shorthand: {"send_message": {...}} or {"mark_read": null}.
	if len(obj) == 1 {
		for key, value := range obj {
			if !isKnownKind(key) {
				break
			}
			normalized := map[string]any{"type": key}
			if nested, ok := value.(map[string]any); ok {
				for k, v := range nested {
					normalized[k] = v
				}
			}
			return normalized
		}
	}
	return cloneMap(obj)
}

// validateActions checks and normalizes the action list into typed actions.
// The first violation aborts: a partially valid list must never execute.
func validateActions(value any) ([]core.Action, Issues) {
	if obj, ok := value.(map[string]any); ok {
		value = []any{obj}
	}
	list, ok := value.([]any)
	if !ok {
		return nil, Issues{{Path: "actions", Reason: "must be an array", Expected: "array", Actual: typeName(value)}}
	}
	if len(list) == 0 {
		return nil, Issues{{Path: "actions", Reason: "must not be empty", Expected: "non-empty array"}}
	}
	if len(list) > maxActions {
		return nil, Issues{{Path: "actions", Reason: "too many actions", Expected: fmt.Sprintf("<=%d", maxActions), Actual: strconv.Itoa(len(list))}}
	}

	out := make([]core.Action, 0, len(list))
	for idx, raw := range list {
		path := fmt.Sprintf("actions[%d]", idx)
		obj := normalizeShape(raw)
		if obj == nil {
			return nil, Issues{{Path: path, Reason: "must be an object", Expected: "object", Actual: typeName(raw)}}
		}

		kind := strings.TrimSpace(asString(obj["type"]))
		action, issues := validateAction(path, kind, obj)
		if len(issues) > 0 {
			return nil, issues
		}
		out = append(out, action)
	}
	return out, nil
}

func validateAction(path, kind string, obj map[string]any) (core.Action, Issues) {
	switch kind {
	case string(core.ActionMarkRead):
		if issues := exactKeys(path, kind, obj, "type"); issues != nil {
			return nil, issues
		}
		return core.MarkRead{}, nil

	case string(core.ActionSimulateTyping), "send_typing":
		// send_typing with a duration class is the tolerated shorthand.
		if class, has := obj["duration_class"]; has {
			if issues := exactKeys(path, kind, obj, "type", "duration_class"); issues != nil {
				return nil, issues
			}
			seconds, ok := typingClassSeconds[strings.TrimSpace(asString(class))]
			if !ok {
				return nil, Issues{{Path: path + ".duration_class", Reason: "invalid duration class", Expected: "short|medium", Actual: asString(class)}}
			}
			return core.SimulateTyping{DurationSeconds: seconds}, nil
		}
		if issues := exactKeys(path, kind, obj, "type", "duration_seconds"); issues != nil {
			return nil, issues
		}
		duration, ok := asNumber(obj["duration_seconds"])
		if !ok || duration < 0 || duration > maxTypingSeconds {
			return nil, Issues{{Path: path + ".duration_seconds", Reason: "duration out of range", Expected: fmt.Sprintf("number in [0,%d]", maxTypingSeconds), Actual: fmt.Sprint(obj["duration_seconds"])}}
		}
		return core.SimulateTyping{DurationSeconds: duration}, nil

	case string(core.ActionWait):
		if class, has := obj["latency_class"]; has {
			if issues := exactKeys(path, kind, obj, "type", "latency_class"); issues != nil {
				return nil, issues
			}
			wait, ok := waitLatencyMap[strings.TrimSpace(asString(class))]
			if !ok {
				return nil, Issues{{Path: path + ".latency_class", Reason: "invalid latency class", Expected: "short|medium|long", Actual: asString(class)}}
			}
			return wait, nil
		}
		if issues := exactKeys(path, kind, obj, "type", "value", "unit"); issues != nil {
			return nil, issues
		}
		value, okValue := asNumber(obj["value"])
		unit := strings.ToLower(strings.TrimSpace(asString(obj["unit"])))
		if !okValue || unit == "" {
			return nil, Issues{{Path: path, Reason: "invalid wait payload", Expected: "value:number and unit:string", Actual: fmt.Sprintf("value=%v, unit=%v", obj["value"], obj["unit"])}}
		}
		if unit != string(core.WaitSeconds) && unit != string(core.WaitMinutes) {
			return nil, Issues{{Path: path + ".unit", Reason: "invalid wait unit", Expected: "seconds|minutes", Actual: unit}}
		}
		if value < 0 {
			return nil, Issues{{Path: path + ".value", Reason: "wait value must be >= 0", Expected: ">=0", Actual: fmt.Sprint(value)}}
		}
		if unit == string(core.WaitSeconds) && value > maxWaitSeconds {
			return nil, Issues{{Path: path + ".value", Reason: "wait seconds exceed max", Expected: fmt.Sprintf("<=%d", maxWaitSeconds), Actual: fmt.Sprint(value)}}
		}
		if unit == string(core.WaitMinutes) && value > maxWaitMinutes {
			return nil, Issues{{Path: path + ".value", Reason: "wait minutes exceed max", Expected: fmt.Sprintf("<=%d", maxWaitMinutes), Actual: fmt.Sprint(value)}}
		}
		return core.Wait{Value: value, Unit: core.WaitUnit(unit)}, nil

	case string(core.ActionSendMessage):
		if issues := subsetKeys(path, kind, obj, "type", "message", "reply_to", "send_at_utc"); issues != nil {
			return nil, issues
		}
		msg, ok := obj["message"].(map[string]any)
		if !ok {
			return nil, Issues{{Path: path + ".message", Reason: "missing message object", Expected: "object with text"}}
		}
		text, ok := msg["text"].(string)
		if !ok {
			return nil, Issues{{Path: path + ".message.text", Reason: "missing text", Expected: "string", Actual: typeName(msg["text"])}}
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, Issues{{Path: path + ".message.text", Reason: "text must be non-empty"}}
		}
		if len([]rune(text)) > maxMessageChars {
			return nil, Issues{{Path: path + ".message.text", Reason: "text too long", Expected: fmt.Sprintf("<=%d chars", maxMessageChars), Actual: strconv.Itoa(len([]rune(text)))}}
		}
		send := core.SendMessage{Text: text}
		if raw, has := obj["reply_to"]; has {
			replyTo, ok := asIDString(raw)
			if !ok {
				return nil, Issues{{Path: path + ".reply_to", Reason: "invalid reply_to", Expected: "string|int", Actual: typeName(raw)}}
			}
			send.ReplyTo = replyTo
		}
		if raw, has := obj["send_at_utc"]; has {
			ts, ok := raw.(string)
			if !ok {
				return nil, Issues{{Path: path + ".send_at_utc", Reason: "invalid send_at_utc type", Expected: "string", Actual: typeName(raw)}}
			}
			if !validISOTimestamp(ts) {
				return nil, Issues{{Path: path + ".send_at_utc", Reason: "invalid ISO timestamp", Expected: "ISO8601 UTC string"}}
			}
			send.SendAtUTC = strings.TrimSpace(ts)
		}
		return send, nil

	case string(core.ActionEditMessage):
		if issues := exactKeys(path, kind, obj, "type", "message_id", "new_text"); issues != nil {
			return nil, issues
		}
		messageID, okID := asIDString(obj["message_id"])
		newText, okText := obj["new_text"].(string)
		if !okID || !okText {
			return nil, Issues{{Path: path, Reason: "invalid edit_message payload", Expected: "message_id:string|int and new_text:string", Actual: fmt.Sprintf("message_id=%v, new_text=%s", obj["message_id"], typeName(obj["new_text"]))}}
		}
		return core.EditMessage{MessageID: messageID, NewText: newText}, nil

	case string(core.ActionNoop):
		if issues := exactKeys(path, kind, obj, "type"); issues != nil {
			return nil, issues
		}
		return core.Noop{}, nil

	case string(core.ActionEscalateToHuman), "decide_handoff":
		if issues := exactKeys(path, kind, obj, "type", "reason"); issues != nil {
			return nil, issues
		}
		reason, ok := obj["reason"].(string)
		if !ok || strings.TrimSpace(reason) == "" {
			return nil, Issues{{Path: path + ".reason", Reason: "reason must be non-empty string"}}
		}
		return core.EscalateToHuman{Reason: strings.TrimSpace(reason)}, nil
	}

	return nil, Issues{{Path: path + ".type", Reason: "unknown or missing action type", Expected: "allowed action type", Actual: kind}}
}

func isKnownKind(kind string) bool {
	switch core.ActionKind(strings.TrimSpace(kind)) {
	case core.ActionMarkRead, core.ActionSimulateTyping, core.ActionWait,
		core.ActionSendMessage, core.ActionEditMessage, core.ActionNoop,
		core.ActionEscalateToHuman:
		return true
	}
	switch strings.TrimSpace(kind) {
	case "send_typing", "decide_handoff":
		return true
	}
	return false
}

func exactKeys(path, kind string, obj map[string]any, allowed ...string) Issues {
	want := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		want[k] = true
	}
	if len(obj) != len(allowed) {
		return unexpectedKeys(path, kind, obj, allowed)
	}
	for k := range obj {
		if !want[k] {
			return unexpectedKeys(path, kind, obj, allowed)
		}
	}
	return nil
}

func subsetKeys(path, kind string, obj map[string]any, allowed ...string) Issues {
	want := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		want[k] = true
	}
	for k := range obj {
		if !want[k] {
			return unexpectedKeys(path, kind, obj, allowed)
		}
	}
	return nil
}

func unexpectedKeys(path, kind string, obj map[string]any, allowed []string) Issues {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Issues{{
		Path:     path,
		Reason:   "unexpected keys for " + kind,
		Expected: strings.Join(allowed, ","),
		Actual:   strings.Join(keys, ","),
	}}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// asIDString accepts string or integer identifiers and renders them as text.
func asIDString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	}
	return "", false
}

func validISOTimestamp(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
