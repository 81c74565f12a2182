package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

func rule(id string, mode rulestore.MatchMode, triggers ...string) rulestore.Rule {
	return rulestore.Rule{
		ID:               id,
		Triggers:         triggers,
		MatchMode:        mode,
		ResponseDelaySec: 1,
		TriggerGapSec:    1,
		IsActive:         true,
	}
}

func msg(text string) event.InboundMessage {
	return event.InboundMessage{MessageID: "m1", Text: text, SenderID: "911234567890"}
}

func TestMatch_WildcardMatchesEverything(t *testing.T) {
	m := New()

	for _, mode := range []rulestore.MatchMode{
		rulestore.MatchIncludesIgnoreCase, rulestore.MatchIncludesMatchCase,
		rulestore.MatchExactIgnoreCase, rulestore.MatchExactMatchCase,
		rulestore.MatchAnywhereIgnoreCase, rulestore.MatchAnywhereMatchCase,
	} {
		results := m.Match(msg("completely unrelated text"), []rulestore.Rule{rule("w", mode)})
		require.Len(t, results, 1, "mode %s", mode)
		assert.Nil(t, results[0].MatchedTrigger)
	}
}

func TestMatch_ExactModes(t *testing.T) {
	m := New()

	r := rule("r1", rulestore.MatchExactIgnoreCase, "Hello")
	assert.Len(t, m.Match(msg("hello"), []rulestore.Rule{r}), 1)
	assert.Len(t, m.Match(msg("  HELLO  "), []rulestore.Rule{r}), 1)
	assert.Empty(t, m.Match(msg("hello there"), []rulestore.Rule{r}))

	r = rule("r2", rulestore.MatchExactMatchCase, "Hello")
	assert.Len(t, m.Match(msg("Hello"), []rulestore.Rule{r}), 1)
	assert.Empty(t, m.Match(msg("hello"), []rulestore.Rule{r}))
}

func TestMatch_IncludesModes(t *testing.T) {
	m := New()

	r := rule("r1", rulestore.MatchIncludesIgnoreCase, "price list")
	assert.Len(t, m.Match(msg("send me the PRICE LIST please"), []rulestore.Rule{r}), 1)
	assert.Empty(t, m.Match(msg("list the price"), []rulestore.Rule{r}))

	r = rule("r2", rulestore.MatchIncludesMatchCase, "Price")
	assert.Len(t, m.Match(msg("the Price today"), []rulestore.Rule{r}), 1)
	assert.Empty(t, m.Match(msg("the price today"), []rulestore.Rule{r}))
}

func TestMatch_AnywhereTokenizesTriggerPhrases(t *testing.T) {
	m := New()

	// "hello world" contributes "hello" and "world" as independent keys.
	anywhere := rule("a", rulestore.MatchAnywhereIgnoreCase, "hello world")
	results := m.Match(msg("WORLD cup"), []rulestore.Rule{anywhere})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].MatchedTrigger)
	assert.Equal(t, "hello world", *results[0].MatchedTrigger)

	// The same trigger under includes mode stays a phrase and does not match.
	includes := rule("i", rulestore.MatchIncludesIgnoreCase, "hello world")
	assert.Empty(t, m.Match(msg("WORLD cup"), []rulestore.Rule{includes}))
}

func TestMatch_AnywhereMatchCase(t *testing.T) {
	m := New()

	r := rule("a", rulestore.MatchAnywhereMatchCase, "Hello World")
	assert.Len(t, m.Match(msg("around the World"), []rulestore.Rule{r}), 1)
	assert.Empty(t, m.Match(msg("around the world"), []rulestore.Rule{r}))
}

func TestMatch_AnywhereMatchesWholeTokensOnly(t *testing.T) {
	m := New()

	r := rule("a", rulestore.MatchAnywhereIgnoreCase, "hi")
	assert.Empty(t, m.Match(msg("high time"), []rulestore.Rule{r}))
	assert.Len(t, m.Match(msg("oh hi there"), []rulestore.Rule{r}), 1)
}

func TestMatch_AllMatchingRulesFire(t *testing.T) {
	m := New()

	rules := []rulestore.Rule{
		rule("r1", rulestore.MatchIncludesIgnoreCase, "order"),
		rule("r2", rulestore.MatchAnywhereIgnoreCase, "order status"),
		rule("r3", rulestore.MatchExactMatchCase, "order"),
	}

	results := m.Match(msg("order update"), rules)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Rule.ID)
	}
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)
}

func TestMatch_UnknownModeSkippedAndReported(t *testing.T) {
	m := New()

	var reportedRule string
	var reportedErr error
	m.OnConfigError = func(ruleID string, err error) {
		reportedRule = ruleID
		reportedErr = err
	}

	bad := rule("broken", "telepathy", "hello")
	results := m.Match(msg("hello"), []rulestore.Rule{bad})

	assert.Empty(t, results)
	assert.Equal(t, "broken", reportedRule)
	assert.ErrorIs(t, reportedErr, errors.ErrUnknownMatchMode)
}

func TestMatch_ZeroValueMatchesWithoutLogger(t *testing.T) {
	var m Matcher

	r := rule("r1", rulestore.MatchIncludesIgnoreCase, "hello")
	results := m.Match(msg("hello there"), []rulestore.Rule{r})
	require.Len(t, results, 1)

	// A bad mode is still skipped and reported, just not logged.
	var reported string
	m.OnConfigError = func(ruleID string, _ error) { reported = ruleID }
	assert.Empty(t, m.Match(msg("hello"), []rulestore.Rule{rule("bad", "telepathy", "hello")}))
	assert.Equal(t, "bad", reported)
}

func TestMatch_TagsMatchedTrigger(t *testing.T) {
	m := New()

	r := rule("r1", rulestore.MatchIncludesIgnoreCase, "refund", "invoice")
	results := m.Match(msg("where is my invoice?"), []rulestore.Rule{r})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].MatchedTrigger)
	assert.Equal(t, "invoice", *results[0].MatchedTrigger)
}
