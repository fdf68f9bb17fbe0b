package engagement

import (
	"fmt"

	"github.com/jonesrussell/amplify/internal/domain"
)

// policyKey keys a reply template by session phase and event category.
type policyKey struct {
	phase    domain.SessionPhase
	category domain.EventCategory
}

// ResponsePolicy selects an automated reply by (phase, category). Spam and
// complaints never reach the policy; the manager short-circuits them.
type ResponsePolicy struct {
	templates map[policyKey]string
}

// NewResponsePolicy builds the default reply policy. Questions get answered
// in every phase, with the register shifting as the session matures. Praise
// is acknowledged early on and steered toward conversion later. General
// comments only get a reply during the initial hook.
func NewResponsePolicy() *ResponsePolicy {
	return &ResponsePolicy{templates: map[policyKey]string{
		{domain.PhaseInitialHook, domain.CategoryQuestion}:      "Great question, %s! We'll dig into that as the discussion gets going.",
		{domain.PhaseActiveDiscussion, domain.CategoryQuestion}: "Good question, %s. Short answer: yes, and the thread above has a worked example.",
		{domain.PhaseExpertPhase, domain.CategoryQuestion}:      "%s, in depth: the behavior you're asking about is intentional and here is how to work with it.",
		{domain.PhaseConversionPush, domain.CategoryQuestion}:   "%s, the full answer is in the linked guide, along with everything else in the series.",
		{domain.PhaseRetention, domain.CategoryQuestion}:        "Thanks for asking, %s. We cover this in detail in the follow-up post.",

		{domain.PhaseInitialHook, domain.CategoryPraise}:      "Thanks, %s! More coming shortly.",
		{domain.PhaseActiveDiscussion, domain.CategoryPraise}: "Appreciate it, %s! Join the discussion above if you have thoughts.",
		{domain.PhaseConversionPush, domain.CategoryPraise}:   "Thanks, %s! If you found this useful, the linked guide goes further.",

		{domain.PhaseInitialHook, domain.CategoryGeneral}: "Thanks for chiming in, %s!",
	}}
}

// ResponseFor returns the reply body for a phase/category pair, or false when
// the policy calls for no automated reply.
func (p *ResponsePolicy) ResponseFor(phase domain.SessionPhase, category domain.EventCategory, author string) (string, bool) {
	tmpl, ok := p.templates[policyKey{phase, category}]
	if !ok {
		return "", false
	}
	return fmt.Sprintf(tmpl, author), true
}
