package reasoning

import "encoding/json"

// FallbackMessage is spoken when no provider could produce an answer for a turn.
const FallbackMessage = "I'm not confident enough to answer that safely with the info I have. Try rephrasing or asking a simpler question."

// Advice is the normalized result of one reasoning turn.
type Advice struct {
	Speak    string
	FollowUp string // empty when Doc has nothing to ask

	// Detail lists are only populated by the legacy and section-based formats.
	Causes   []string
	SelfCare []string
	RedFlags []string
}

// HasFollowUp reports whether the advice carries a clarifying question.
func (a Advice) HasFollowUp() bool {
	return a.FollowUp != ""
}

// IsEmpty reports whether the advice has nothing to say.
func (a Advice) IsEmpty() bool {
	return a.Speak == "" && a.FollowUp == ""
}

// MarshalJSON renders the wire shape {speak, followUp} with a null followUp.
func (a Advice) MarshalJSON() ([]byte, error) {
	var followUp *string
	if a.FollowUp != "" {
		followUp = &a.FollowUp
	}
	return json.Marshal(struct {
		Speak    string  `json:"speak"`
		FollowUp *string `json:"followUp"`
	}{a.Speak, followUp})
}
