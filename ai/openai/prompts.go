package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/ragcore/core"
)

const answerSystemPrompt = `You answer questions using only the numbered context passages supplied by the user.

Rules:
- Cite passages inline with their number in square brackets, for example [2].
- If the passages do not contain the answer, say that you could not find it in the indexed pages.
- Do not invent sources, URLs, or facts that are not in the passages.
- Keep the answer concise.`

const answerUserTemplate = `Context:
%s

Sources:
%s

Question: %s`

// buildAnswerPrompt renders the user turn for answer generation.
func buildAnswerPrompt(query, context string, citations []core.Citation) string {
	var sources strings.Builder
	for _, c := range citations {
		fmt.Fprintf(&sources, "[%d] %s\n", c.Number, c.SourceURL)
	}
	return fmt.Sprintf(answerUserTemplate, context, strings.TrimSpace(sources.String()), scrubString(query))
}
