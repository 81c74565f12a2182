package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

var (
	savedSender   = event.Sender{PhoneNumber: "919876543210", CountryCode: "91", IsSaved: true}
	unsavedSender = event.Sender{PhoneNumber: "15550001111", CountryCode: "1", IsSaved: false}
)

func TestResolve_ExcludeWinsOverInclude(t *testing.T) {
	scope := rulestore.RecipientScope{
		IncludeSaved:   true,
		IncludeUnsaved: true,
		IncludeNumbers: []string{savedSender.PhoneNumber},
		ExcludeNumbers: []string{savedSender.PhoneNumber},
	}

	d := Resolve(scope, savedSender)
	assert.Equal(t, DeniedExcluded, d)
	assert.False(t, d.Allowed())
}

func TestResolve_IncludeOverridesFlagsAndCountry(t *testing.T) {
	scope := rulestore.RecipientScope{
		IncludeSaved:        false,
		IncludeUnsaved:      false,
		IncludeNumbers:      []string{unsavedSender.PhoneNumber},
		AllowedCountryCodes: []string{"91"}, // sender is country 1
	}

	d := Resolve(scope, unsavedSender)
	assert.Equal(t, AllowedIncluded, d)
	assert.True(t, d.Allowed())
}

func TestResolve_CountryGate(t *testing.T) {
	scope := rulestore.RecipientScope{
		IncludeSaved:        true,
		IncludeUnsaved:      true,
		AllowedCountryCodes: []string{"91"},
	}

	assert.Equal(t, AllowedSaved, Resolve(scope, savedSender))
	assert.Equal(t, DeniedCountry, Resolve(scope, unsavedSender))

	// Empty allow-list means all countries.
	scope.AllowedCountryCodes = nil
	assert.Equal(t, AllowedUnsaved, Resolve(scope, unsavedSender))
}

func TestResolve_SavedUnsavedFlags(t *testing.T) {
	tests := []struct {
		name           string
		includeSaved   bool
		includeUnsaved bool
		sender         event.Sender
		want           Decision
	}{
		{"saved allowed", true, false, savedSender, AllowedSaved},
		{"saved denied when only unsaved", false, true, savedSender, DeniedFlagMismatch},
		{"unsaved allowed", false, true, unsavedSender, AllowedUnsaved},
		{"unsaved denied when only saved", true, false, unsavedSender, DeniedFlagMismatch},
		{"both flags allow either", true, true, unsavedSender, AllowedUnsaved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := rulestore.RecipientScope{
				IncludeSaved:   tt.includeSaved,
				IncludeUnsaved: tt.includeUnsaved,
			}
			assert.Equal(t, tt.want, Resolve(scope, tt.sender))
		})
	}
}

func TestResolve_NothingConfiguredDenies(t *testing.T) {
	scope := rulestore.RecipientScope{}
	d := Resolve(scope, savedSender)
	assert.Equal(t, DeniedNotConfigured, d)
	assert.False(t, d.Allowed())
}

func TestResolve_BusinessOnly(t *testing.T) {
	scope := rulestore.RecipientScope{
		IncludeSaved:   true,
		IncludeUnsaved: true,
		OnlyBusiness:   true,
	}

	assert.Equal(t, DeniedBusinessOnly, Resolve(scope, savedSender))

	business := savedSender
	business.IsBusiness = true
	assert.Equal(t, AllowedSaved, Resolve(scope, business))

	// Explicit include still bypasses the business gate.
	scope.IncludeNumbers = []string{savedSender.PhoneNumber}
	assert.Equal(t, AllowedIncluded, Resolve(scope, savedSender))
}

func TestResolve_FlagMismatchBeforeBusinessGate(t *testing.T) {
	// A sender the saved/unsaved flags reject is reported as a flag
	// mismatch even when the business gate would also deny it.
	scope := rulestore.RecipientScope{
		IncludeSaved: true,
		OnlyBusiness: true,
	}

	unsaved := savedSender
	unsaved.IsSaved = false
	assert.Equal(t, DeniedFlagMismatch, Resolve(scope, unsaved))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "denied_excluded", DeniedExcluded.String())
	assert.Equal(t, "allowed_included", AllowedIncluded.String())
	assert.Equal(t, "unknown", Decision(99).String())
}
