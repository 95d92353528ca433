package llm

import (
	"context"
	"fmt"
	"strings"
)

// Coach plays a customer persona against a sales rep.
type Coach struct {
	LLM      Completer
	Defaults GenerationParams
}

func NewCoach(completer Completer, defaults GenerationParams) *Coach {
	return &Coach{LLM: completer, Defaults: defaults}
}

// RolePlayReply returns the persona's next turn. An empty priorTurns is valid:
// the request then carries only the system and new user messages.
func (c *Coach) RolePlayReply(ctx context.Context, persona, scenario string, priorTurns []ChatMessage, newUserText string) (string, error) {
	text, err := c.LLM.Complete(ctx, BuildRolePlayRequest(persona, scenario, priorTurns, newUserText, c.Defaults))
	if err != nil {
		return "", fmt.Errorf("role play reply: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func BuildRolePlayRequest(persona, scenario string, priorTurns []ChatMessage, newUserText string, params GenerationParams) CompletionRequest {
	messages := make([]ChatMessage, 0, len(priorTurns)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: rolePlayInstructions(persona, scenario)})
	messages = append(messages, priorTurns...)
	messages = append(messages, ChatMessage{Role: RoleUser, Content: newUserText})
	return CompletionRequest{Messages: messages, Params: params}
}

func rolePlayInstructions(persona, scenario string) string {
	return "You are role-playing as a customer with the following profile:\n" +
		persona + "\n\n" +
		"The sales scenario is:\n" +
		scenario + "\n\n" +
		"Respond naturally as this customer would, staying consistent with their personality and the scenario."
}
