package service

import (
	"fmt"
	"strings"
)

// extractionSystemPrompt instructs the collaborator to pull structured
// facts out of a free-form message. The reply must be a bare JSON
// object matching core.Requirements; anything else falls back to the
// keyword extractor.
const extractionSystemPrompt = `You extract workflow automation requirements from a user message.
Reply with a single JSON object and nothing else. Schema:
{
  "name": "short workflow name, if stated",
  "trigger_type": "one of: %s",
  "schedule": "cron expression, only for schedule triggers",
  "actions": [{"capability": "one of: %s", "params": {"key": "value"}}],
  "notes": {"key": "value"}
}
Omit any field the message does not mention. Never invent facts.`

// clarifyingQuestions maps a missing requirement field to the question
// the assistant asks for it.
var clarifyingQuestions = map[string]string{
	"name":    "What should the workflow be called?",
	"trigger": "What should start the workflow — a webhook call, a schedule, an incoming email, or a manual run?",
	"actions": "What should the workflow do once it starts? For example: call an HTTP endpoint, send an email, or post to Slack.",
}

// extractionPrompt renders the extraction system prompt with the
// supported capability lists.
func extractionPrompt(triggers, actions []string) string {
	return fmt.Sprintf(extractionSystemPrompt,
		strings.Join(triggers, ", "),
		strings.Join(actions, ", "))
}

// clarifyFor returns the clarifying question for the first missing field.
func clarifyFor(missing []string) string {
	if len(missing) == 0 {
		return "Could you tell me more about the workflow you need?"
	}
	if q, ok := clarifyingQuestions[missing[0]]; ok {
		return q
	}
	return fmt.Sprintf("Could you provide the %s for the workflow?", missing[0])
}

// unsupportedReply explains an unsupported capability and suggests the
// supported alternatives.
func unsupportedReply(capability string, alternatives []string) string {
	return fmt.Sprintf(
		"I can't build workflows using %q — the engine doesn't support it. Supported options are: %s. Which would you like instead?",
		capability, strings.Join(alternatives, ", "))
}
