package orchestrator

import (
	"github.com/agentworld/runtime/pkg/models"
)

// Rule names which should-agent-respond rule decided a Verdict,
// surfaced for metrics/logging rather than control flow.
type Rule string

const (
	RuleSelf            Rule = "self"
	RuleChatMismatch    Rule = "chat-mismatch"
	RuleAutoReplyOff    Rule = "auto-reply-disabled"
	RuleMentionsOther   Rule = "mentions-other"
	RuleCrossAgentBcast Rule = "cross-agent-broadcast"
	RuleTurnLimit       Rule = "turn-limit"
	RuleAccept          Rule = "accept"
)

// Verdict is the outcome of evaluating one agent against one incoming
// message event.
type Verdict struct {
	Rule Rule

	// Owns reports whether event should be appended to agent's memory at
	// all. This includes the memory-only cases, not just full turns.
	Owns bool

	// Respond reports whether the orchestrator should run a full LLM turn
	// for agent. Respond implies Owns.
	Respond bool

	// TurnLimitReached distinguishes the turn-limit rejection, which
	// publishes a system notice, from an ordinary memory-only rejection.
	TurnLimitReached bool
}

// Evaluate runs the should-agent-respond rules, in order, against one
// agent for one event.
func Evaluate(agent *models.Agent, world *models.World, event *models.StoredEvent) Verdict {
	// no self-reply
	if event.Sender == agent.ID {
		return Verdict{Rule: RuleSelf}
	}

	// chat mismatch
	if event.ChatID != "" && world.CurrentChatID != "" && event.ChatID != world.CurrentChatID {
		return Verdict{Rule: RuleChatMismatch}
	}

	mentioned := IsMentioned(agent, event.Content)

	// autoReply off and not mentioned
	if !agent.AutoReply && !mentioned {
		return Verdict{Rule: RuleAutoReplyOff}
	}

	mentionsPresent := len(ExtractMentions(event.Content)) > 0

	// mentions exist, but not for this agent -> memory-only
	if mentionsPresent && !mentioned {
		return Verdict{Rule: RuleMentionsOther, Owns: true}
	}

	// no mentions, sender is another agent -> memory-only; absorbs
	// agent broadcasts rather than answering, to avoid loops. An
	// unmentioned agent reply is agent->human on the wire but its sender
	// is still an agent, so it's absorbed the same way.
	if !mentionsPresent && event.Metadata != nil &&
		(event.Metadata.Direction == models.DirectionAgentToAgent || event.Metadata.Direction == models.DirectionAgentToHuman) {
		return Verdict{Rule: RuleCrossAgentBcast, Owns: true}
	}

	return Verdict{Rule: RuleAccept, Owns: true, Respond: true}
}

// CheckTurnLimit applies the turn-limit rule on top of an already-Respond
// Verdict: if turnCount has reached agent's effective limit, the verdict
// becomes a turn-limit rejection instead of an accept.
func CheckTurnLimit(v Verdict, agent *models.Agent, world *models.World, turnCount int) Verdict {
	if v.Rule != RuleAccept {
		return v
	}
	if turnCount >= agent.EffectiveLLMCallLimit(world) {
		return Verdict{Rule: RuleTurnLimit, Owns: true, TurnLimitReached: true}
	}
	return v
}
