package contract

import (
	"regexp"
	"strings"

	"github.com/baitlab/scambaiter/internal/core"
)

// Reject reasons reported on a non-accepted validation, one per pipeline
// stage plus the post-validation heuristics.
const (
	RejectParseFailed     = "parse_failed"
	RejectSchemaInvalid   = "schema_invalid"
	RejectActionInvalid   = "action_invalid"
	RejectReasoningOutput = "reasoning_not_message"
	RejectStylePolicy     = "style_policy_violation"
)

// envelope keys: the four required ones plus the optional conflict object a
// model may attach when it cannot produce a reply.
var (
	requiredTopLevelKeys = []string{"schema", "analysis", "message", "actions"}
	allowedTopLevelKeys  = map[string]bool{
		"schema": true, "analysis": true, "message": true, "actions": true,
		"conflict": true,
	}
)

// Result is the outcome of validating one raw model output. Accepted results
// carry a fully normalized StructuredResult; rejected ones carry the stage
// that failed and the violations found there.
type Result struct {
	Output       *core.StructuredResult
	Issues       Issues
	RejectReason string
}

// Accepted reports whether the output passed every stage.
func (r Result) Accepted() bool {
	return r.RejectReason == "" && r.Output != nil
}

// Validate runs the full pipeline over raw model output: parse, envelope
// check, action validation/normalization, then the reply-quality heuristics.
// It never returns a partially validated result.
func Validate(raw string) Result {
	data, issues := parseObject(raw)
	if data == nil {
		return Result{Issues: issues, RejectReason: RejectParseFailed}
	}

	if issues := validateEnvelope(data); len(issues) > 0 {
		return Result{Issues: issues, RejectReason: RejectSchemaInvalid}
	}

	actions, issues := validateActions(data["actions"])
	if len(issues) > 0 {
		return Result{Issues: issues, RejectReason: RejectActionInvalid}
	}

	messageObj, _ := data["message"].(map[string]any)
	messageText := strings.TrimSpace(asString(messageObj["text"]))
	conflict, hasConflict := data["conflict"].(map[string]any)

	result := &core.StructuredResult{
		Schema:   core.SchemaVersion,
		Analysis: toAnalysis(data["analysis"]),
		Message:  core.Message{Text: messageText},
		Actions:  actions,
	}
	if hasConflict {
		result.Analysis = core.MergeAnalysis(result.Analysis, core.Analysis{core.AnalysisConflict: conflict})
	}

	suggestion := result.Suggestion()
	if suggestion == "" && !hasConflict {
		return Result{
			Issues: Issues{{
				Path:     "actions",
				Reason:   "missing send_message action with message.text",
				Expected: "at least one send_message action containing message.text",
			}},
			RejectReason: RejectActionInvalid,
		}
	}

	// A structurally valid response whose reply is leaked reasoning or
	// advisory boilerplate is still unusable.
	if suggestion != "" {
		if LooksLikeReasoning(suggestion) {
			return Result{
				Issues:       Issues{{Path: "message.text", Reason: "reply is reasoning or meta commentary, not a message"}},
				RejectReason: RejectReasoningOutput,
			}
		}
		if ViolatesStylePolicy(suggestion) {
			return Result{
				Issues:       Issues{{Path: "message.text", Reason: "reply drifts into generic safety-advisory style"}},
				RejectReason: RejectStylePolicy,
			}
		}
	}

	return Result{Output: result}
}

func validateEnvelope(data map[string]any) Issues {
	var missing []string
	for _, key := range requiredTopLevelKeys {
		if _, has := data[key]; !has {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Issues{{
			Path:     "root",
			Reason:   "missing required top-level keys",
			Expected: strings.Join(requiredTopLevelKeys, ","),
			Actual:   strings.Join(missing, ","),
		}}
	}
	for key := range data {
		if !allowedTopLevelKeys[key] {
			return Issues{{Path: key, Reason: "unexpected top-level key", Expected: strings.Join(requiredTopLevelKeys, ",")}}
		}
	}

	schema, ok := data["schema"].(string)
	if !ok || strings.TrimSpace(schema) != core.SchemaVersion {
		return Issues{{Path: "schema", Reason: "invalid schema", Expected: core.SchemaVersion, Actual: asString(data["schema"])}}
	}
	if _, ok := data["analysis"].(map[string]any); !ok {
		return Issues{{Path: "analysis", Reason: "analysis must be object", Expected: "object", Actual: typeName(data["analysis"])}}
	}
	if _, ok := data["message"].(map[string]any); !ok {
		return Issues{{Path: "message", Reason: "message must be object", Expected: "object", Actual: typeName(data["message"])}}
	}
	return nil
}

func toAnalysis(v any) core.Analysis {
	obj, ok := v.(map[string]any)
	if !ok {
		return core.Analysis{}
	}
	out := make(core.Analysis, len(obj))
	for k, val := range obj {
		out[k] = val
	}
	return out
}

var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(analyse|analysis|gedanke|thinking|thought|chain[- ]of[- ]thought|schritt\s*\d+)\b`),
	regexp.MustCompile(`(?i)^(let me think|i should|zuerst|first|danach|then|abschließend|finally)\b`),
	regexp.MustCompile(`(?i)^(the user wants|let me|looking at the image|now i need|i will)\b`),
}

// LooksLikeReasoning reports whether text reads like leaked chain-of-thought
// instead of an outgoing chat message.
func LooksLikeReasoning(text string) bool {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return true
	}
	lower := strings.ToLower(stripped)
	if strings.Contains(lower, "<think>") || strings.Contains(lower, "</think>") {
		return true
	}
	for _, pattern := range reasoningPatterns {
		if pattern.MatchString(stripped) {
			return true
		}
	}
	return false
}

// disallowedStylePhrases are markers of the consumer-protection advisory tone
// the persona must never adopt mid-conversation.
var disallowedStylePhrases = []string{
	"qualified financial advisor",
	"verify the platform's legitimacy",
	"if you have concerns about potential scams",
	"next steps to protect yourself",
	"request a written agreement",
	"independent legal advice",
	"risk-free high yields is a red flag",
}

// ViolatesStylePolicy reports whether a reply breaks persona by drifting into
// generic financial-safety advisory language.
func ViolatesStylePolicy(reply string) bool {
	text := strings.ToLower(strings.TrimSpace(reply))
	if text == "" {
		return false
	}
	matches := 0
	for _, phrase := range disallowedStylePhrases {
		if strings.Contains(text, phrase) {
			matches++
		}
	}
	if matches >= 2 {
		return true
	}
	return strings.Contains(text, "qualified financial advisor") ||
		strings.Contains(text, "next steps to protect yourself")
}
