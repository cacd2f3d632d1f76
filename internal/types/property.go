// property.go — Validation targets as loaded from the property catalog.
package types

// Property is one validation target. Immutable for the lifetime of a run;
// unique by ID.
type Property struct {
	ID                   string `json:"id" db:"id"`
	DisplayName          string `json:"display_name" db:"display_name"`
	TargetURL            string `json:"target_url" db:"target_url"`
	ExpectedAnalyticsID  string `json:"expected_analytics_id,omitempty" db:"expected_analytics_id"`
	ExpectedTagManagerID string `json:"expected_tag_manager_id,omitempty" db:"expected_tag_manager_id"`
	UsesConsentMode      bool   `json:"uses_consent_mode" db:"uses_consent_mode"`
	Slug                 string `json:"slug" db:"slug"`
}

// HasExpectedTagManagerID reports whether the tag-manager check applies to
// this property. Properties without an expected container get a passthrough
// tag-manager check.
func (p Property) HasExpectedTagManagerID() bool {
	return p.ExpectedTagManagerID != ""
}
