package answer

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// systemPrompt carries the answering rules; %s receives the numbered sources.
const systemPrompt = `You answer questions about the user's documents using only the numbered sources below.

Rules:
- Use only facts stated in the sources. If they do not contain the answer, say that you could not find it.
- Cite every source you relied on by its number.
- Reply with one JSON object and nothing else:
  {"answer": "<your answer>", "citations": [<source numbers>], "confidence": <number from 0 to 1>}

Sources:
%s`

// buildMessages returns the system prompt with the sources, then the question.
func buildMessages(question string, sources []source) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPrompt, renderSources(sources))),
		schema.UserMessage(question),
	}
}
