package contract

import "encoding/json"

// ChatMessage is one prompt message in a repair conversation. The model layer
// converts these into its provider-specific request shape.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// maxRepairExcerpt bounds how much of the failed output is echoed back to the
// model, so one runaway generation cannot blow the repair prompt.
const maxRepairExcerpt = 12000

// BuildRepairMessages assembles the single corrective follow-up issued after
// a rejected generation. systemPrompt is the persona/contract prompt the
// initial request used.
func BuildRepairMessages(systemPrompt, failedOutput, rejectReason string) []ChatMessage {
	if rejectReason == "" {
		rejectReason = "contract_validation_failed"
	}
	clipped := failedOutput
	if len(clipped) > maxRepairExcerpt {
		clipped = clipped[:maxRepairExcerpt]
	}

	failedPayload, _ := json.Marshal(map[string]string{"failed_generation": clipped})
	reasonPayload, _ := json.Marshal(map[string]string{"reject_reason": rejectReason})

	return []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "system", Content: "Repair task: previous output violated the JSON contract. " +
			"Return only a corrected scambait.llm.v1 JSON object."},
		{Role: "system", Content: "If reject_reason is style_policy_violation, keep the output in-role " +
			"and avoid generic financial safety/advisory language."},
		{Role: "system", Content: "For send_message actions, use actions[].message.text. Do not use actions[].text."},
		{Role: "user", Content: string(failedPayload)},
		{Role: "user", Content: string(reasonPayload)},
	}
}
