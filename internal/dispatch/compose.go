package dispatch

import (
	"strings"

	"github.com/relaydesk/relaydesk/internal/agent"
	"github.com/relaydesk/relaydesk/internal/knowledge"
)

// composeReply renders a deterministic reply from the agent's tone and the
// retrieved fragments. With no relevant fragments the reply says so outright
// instead of fabricating an answer.
func composeReply(ag *agent.Agent, grounded []knowledge.Result) string {
	if len(grounded) == 0 {
		return fallbackReply(ag)
	}

	var b strings.Builder
	b.WriteString(greeting(ag))
	b.WriteString(" ")
	b.WriteString(leadIn(ag.Tone))
	for _, hit := range grounded {
		b.WriteString("\n- ")
		b.WriteString(strings.TrimSpace(hit.Fragment.Content))
	}
	b.WriteString("\n")
	b.WriteString(closing(ag.Tone))
	return b.String()
}

func greeting(ag *agent.Agent) string {
	switch ag.Tone {
	case agent.ToneFriendly:
		return "Hi there! Thanks for reaching out to " + ag.BusinessName + "."
	case agent.ToneCasual:
		return "Hey! " + ag.BusinessName + " here."
	case agent.ToneTechnical:
		return "Hello, this is " + ag.BusinessName + " support."
	default:
		return "Thank you for contacting " + ag.BusinessName + "."
	}
}

func leadIn(tone agent.Tone) string {
	switch tone {
	case agent.ToneFriendly:
		return "Here's what I found for you:"
	case agent.ToneCasual:
		return "Here's the scoop:"
	case agent.ToneTechnical:
		return "Relevant documentation follows:"
	default:
		return "Here is the information relevant to your question:"
	}
}

func closing(tone agent.Tone) string {
	switch tone {
	case agent.ToneFriendly:
		return "Hope that helps! Let me know if there's anything else."
	case agent.ToneCasual:
		return "Anything else, just shout."
	case agent.ToneTechnical:
		return "Reply with further details if this does not cover your case."
	default:
		return "Please let us know if you need further assistance."
	}
}

func fallbackReply(ag *agent.Agent) string {
	switch ag.Tone {
	case agent.ToneFriendly:
		return "Hi there! I'm sorry, but I don't have information about that in " +
			ag.BusinessName + "'s knowledge base. Let me connect you with a team member who can help."
	case agent.ToneCasual:
		return "Hmm, I don't actually have anything on that for " + ag.BusinessName +
			". Let me get a human to help you out."
	case agent.ToneTechnical:
		return "No matching documentation was found for your query in " + ag.BusinessName +
			"'s knowledge base. Your question has been noted for follow-up by the support team."
	default:
		return "We do not have information about that in " + ag.BusinessName +
			"'s knowledge base. Your question will be forwarded to our support team."
	}
}
