package negotiation

import (
	"encoding/json"
	"strings"
)

// Negotiation states, in the order a call usually moves through them.
const (
	StateOpening           = "OPENING"
	StateVerifyIdentity    = "VERIFY_IDENTITY"
	StateDiscoverSituation = "DISCOVER_SITUATION"
	StateOfferPlan         = "OFFER_PLAN"
	StateHandleObjection   = "HANDLE_OBJECTION"
	StateConfirmCommitment = "CONFIRM_COMMITMENT"
	StateClosing           = "CLOSING"
)

// Call outcomes.
const (
	OutcomePromiseToPay      = "PROMISE_TO_PAY"
	OutcomePartialPayment    = "PARTIAL_PAYMENT"
	OutcomeRefused           = "REFUSED"
	OutcomeCallbackRequested = "CALLBACK_REQUESTED"
	OutcomeDoNotCall         = "DO_NOT_CALL"
	OutcomeWrongNumber       = "WRONG_NUMBER"
	OutcomeNoAnswer          = "NO_ANSWER"
	OutcomeUnknown           = "UNKNOWN"
)

// States lists every negotiation state.
var States = []string{
	StateOpening,
	StateVerifyIdentity,
	StateDiscoverSituation,
	StateOfferPlan,
	StateHandleObjection,
	StateConfirmCommitment,
	StateClosing,
}

// Outcomes lists every call outcome.
var Outcomes = []string{
	OutcomePromiseToPay,
	OutcomePartialPayment,
	OutcomeRefused,
	OutcomeCallbackRequested,
	OutcomeDoNotCall,
	OutcomeWrongNumber,
	OutcomeNoAnswer,
	OutcomeUnknown,
}

// DefaultInstructions is the base of the system prompt.
const DefaultInstructions = "You are a debt negotiation agent. " +
	"The debtor owes $5,000. Start the call with a short greeting and begin negotiation. " +
	"Be concise, professional, and empathetic. " +
	"Follow negotiation states and record outcomes."

// DefaultOpeningPrompt is the assistant turn seeded after the system prompt
// and spoken as soon as the stream starts.
const DefaultOpeningPrompt = "Greet the debtor briefly and start the negotiation about the $5,000 balance."

// SummaryInstructions is the system line of the summarization request.
const SummaryInstructions = "You summarize debt negotiation calls into JSON. Use the provided schema only."

// SummarySchemaName names the summarization response format.
const SummarySchemaName = "call_summary"

// SystemPrompt returns override when set, otherwise the default
// instructions followed by the state and outcome vocabularies.
func SystemPrompt(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return DefaultInstructions +
		" Valid states: " + strings.Join(States, ", ") + "." +
		" Outcomes: " + strings.Join(Outcomes, ", ") + "."
}

// SummarySchema returns the strict JSON schema of a call summary.
func SummarySchema() json.RawMessage {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"final_state", "outcome", "summary", "events"},
		"properties": map[string]any{
			"final_state": map[string]any{"type": "string", "enum": States},
			"outcome":     map[string]any{"type": "string", "enum": Outcomes},
			"summary":     map[string]any{"type": "string"},
			"events": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"type", "amount_cents", "date", "note"},
					"properties": map[string]any{
						"type":         map[string]any{"type": "string"},
						"amount_cents": map[string]any{"type": []string{"integer", "null"}},
						"date":         map[string]any{"type": []string{"string", "null"}},
						"note":         map[string]any{"type": []string{"string", "null"}},
					},
				},
			},
		},
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return raw
}

func validState(s string) bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

func validOutcome(s string) bool {
	for _, v := range Outcomes {
		if v == s {
			return true
		}
	}
	return false
}
