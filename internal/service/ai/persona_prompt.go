package ai

import "strings"

const spokenReplyRules = `Your replies are converted to speech and played to the user.
- Answer in plain sentences, without markdown, lists or emoji.
- Keep each answer to a few short sentences.
- If the user interrupts you, do not repeat what was already said.`

// BuildSystemPrompt appends the spoken-reply rules to persona instructions.
func BuildSystemPrompt(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return spokenReplyRules
	}
	return instructions + "\n\n" + spokenReplyRules
}
