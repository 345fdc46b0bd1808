package redact

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleagent/harness/internal/resource"
)

func TestAnonymizeEmailsIsStablePerInstance(t *testing.T) {
	r := New(Policy{})

	out := r.Resources([]resource.Resource{
		{"email": "alice@corp.com"},
		{"email": "bob@corp.com"},
		{"email": "alice@corp.com"},
	})

	assert.Equal(t, "user-1@doubleagent.local", out[0]["email"])
	assert.Equal(t, "user-2@doubleagent.local", out[1]["email"])
	assert.Equal(t, "user-1@doubleagent.local", out[2]["email"],
		"the same input email maps to the same synthetic address")
}

func TestRedactionIsDeterministicAcrossRuns(t *testing.T) {
	input := func() []resource.Resource {
		return []resource.Resource{
			{"email": "alice@corp.com", "full_name": "Alice Ng", "api_token": "xyz"},
			{"email": "bob@corp.com", "author_name": "Bob Ra"},
		}
	}

	a := New(Policy{}).Resources(input())
	b := New(Policy{}).Resources(input())
	assert.Equal(t, a, b, "fresh redactors over the same sequence agree")
}

func TestNameFieldsAnonymized(t *testing.T) {
	r := New(Policy{})

	out := r.Resources([]resource.Resource{
		{"full_name": "Alice Ng", "display_name": "Alice Ng"},
		// A bare "name" field is a title, not a person.
		{"name": "backend-repo"},
	})

	assert.Equal(t, "User 1", out[0]["full_name"])
	assert.Equal(t, "User 1", out[0]["display_name"])
	assert.Equal(t, "backend-repo", out[1]["name"])
}

func TestSecretsAreHashedNotMapped(t *testing.T) {
	r := New(Policy{})

	out := r.Resources([]resource.Resource{
		{"api_token": "hunter2", "password": "hunter2", "webhook_secret": "other"},
	})

	tok := out[0]["api_token"].(string)
	assert.Regexp(t, `^redacted-[0-9a-f]{10}$`, tok)
	assert.Equal(t, tok, out[0]["password"], "equal secrets hash equally")
	assert.NotEqual(t, tok, out[0]["webhook_secret"])
}

func TestAvatarAndPhoneDefaults(t *testing.T) {
	r := New(Policy{})

	out := r.Resources([]resource.Resource{
		{"avatar_url": "https://cdn/x.png", "phone": "+1 555 0100"},
	})

	assert.Equal(t, "https://doubleagent.local/avatar.png", out[0]["avatar_url"])
	assert.Equal(t, "", out[0]["phone"])
}

func TestStrategyRemoveDropsField(t *testing.T) {
	r := New(Policy{Strategies: map[Category]Strategy{CategoryEmail: StrategyRemove}})

	out := r.Resources([]resource.Resource{{"email": "alice@corp.com", "id": float64(1)}})
	_, present := out[0]["email"]
	assert.False(t, present)
	assert.Equal(t, float64(1), out[0]["id"])
}

func TestStrategyPlaceholder(t *testing.T) {
	r := New(Policy{Strategies: map[Category]Strategy{
		CategoryEmail: StrategyPlaceholder,
		CategoryName:  StrategyPlaceholder,
	}})

	out := r.Resources([]resource.Resource{
		{"email": "a@b.co", "full_name": "Alice"},
		{"email": "c@d.co"},
	})
	assert.Equal(t, "redacted@doubleagent.local", out[0]["email"])
	assert.Equal(t, "redacted@doubleagent.local", out[1]["email"])
	assert.Equal(t, "Redacted User", out[0]["full_name"])
}

func TestEmailShapedValuesInOtherFields(t *testing.T) {
	r := New(Policy{})

	out := r.Resources([]resource.Resource{
		{"description": "contact alice@corp.com", "reporter": "alice@corp.com"},
	})

	// A bare email value is caught even without an email field name.
	assert.Equal(t, "user-1@doubleagent.local", out[0]["reporter"])
	// Emails embedded in prose are out of scope for the value rule.
	assert.Equal(t, "contact alice@corp.com", out[0]["description"])
}

func TestNestedContainersAreWalked(t *testing.T) {
	r := New(Policy{})

	out := r.Resources([]resource.Resource{
		{
			"owner": map[string]interface{}{
				"email": "alice@corp.com",
				"tags":  []interface{}{"a", "b"},
			},
			"watchers": []interface{}{
				map[string]interface{}{"email": "alice@corp.com"},
			},
		},
	})

	owner := out[0]["owner"].(map[string]interface{})
	watcher := out[0]["watchers"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "user-1@doubleagent.local", owner["email"])
	assert.Equal(t, owner["email"], watcher["email"],
		"the same person stays the same person across nesting levels")
}

func TestCustomRulesApplyLast(t *testing.T) {
	r := New(Policy{Rules: []Rule{{
		Pattern:     regexp.MustCompile(`ACME-\d+`),
		Replacement: "TICKET-X",
	}}})

	out := r.Resources([]resource.Resource{{"summary": "see ACME-123 and ACME-456"}})
	assert.Equal(t, "see TICKET-X and TICKET-X", out[0]["summary"])
}

func TestNonStringValuesPassThrough(t *testing.T) {
	r := New(Policy{})

	out := r.Resources([]resource.Resource{
		{"id": float64(42), "active": true, "score": 1.5, "missing": nil},
	})
	assert.Equal(t, float64(42), out[0]["id"])
	assert.Equal(t, true, out[0]["active"])
	assert.Equal(t, 1.5, out[0]["score"])
}

func TestStreamsRedactsEveryStream(t *testing.T) {
	r := New(Policy{})

	out := r.Streams(map[string][]resource.Resource{
		"users":   {{"email": "alice@corp.com"}},
		"commits": {{"committer_name": "Alice Ng"}},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "user-1@doubleagent.local", out["users"][0]["email"])
	assert.Equal(t, "User 1", out["commits"][0]["committer_name"])
}
