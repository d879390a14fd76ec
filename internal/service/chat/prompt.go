package chat

import (
	"fmt"
	"strings"

	"github.com/feichai0017/legal-rag/internal/llm"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/vectorstore"
)

const limitMessage = "You have consumed all of your free messages. Please subscribe to continue using Caira."

const suggestionTemplate = `Based on the conversation between a user and legal writer, generate 5 PRECISE 5 WORDS follow-up questions.
NOTE: If no conversation is provided then generate 5 PRECISE 5 WORDS questions a user can ask from a legal writer.

Conversation:'''%s'''

Respond ONLY with the questions without mentioning their order.
Each question should be separated by a newline character.
Questions:`

// rewrite turns a mode into the instruction sent in place of the user message.
func rewrite(mode models.ChatMode, lastAI string) string {
	prefix := `Repeat your last response where you say: "` + lastAI + `"`
	switch mode {
	case models.ModeSimplify:
		return prefix + " but make it understandable to a 21 year old."
	case models.ModeElaborate:
		return prefix + " but with more detail including relevant case law and legal precedent if available."
	default:
		return prefix + " but tell me what I could consider step-by-step."
	}
}

func lastAIResponse(history []models.ChatMessage) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.ChatRoleAI {
			return history[i].Content, true
		}
	}
	return "", false
}

func systemPrompt(role, prompt string, userCtx, kbCtx []vectorstore.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s. You should always use the provided context to respond. %s", role, prompt)
	writeSection := func(title string, matches []vectorstore.Match) {
		if len(matches) == 0 {
			return
		}
		b.WriteString("\n\n")
		b.WriteString(title)
		b.WriteString(":\n")
		for _, m := range matches {
			b.WriteString("---\n")
			b.WriteString(m.Text())
			b.WriteString("\n")
		}
	}
	writeSection("Information from the user's uploaded files about their particular circumstances", userCtx)
	writeSection("Law knowledge base", kbCtx)
	return strings.TrimSpace(b.String())
}

func toLLM(history []models.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == models.ChatRoleAI {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func transcript(history []models.ChatMessage) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
