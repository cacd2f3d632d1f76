// property_store.go — Read-only property source over the catalog table.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tagwatch/tagwatch/internal/types"
)

// PropertyStore reads validation targets from the catalog. The validator
// never writes to the catalog; CRUD lives with the dashboard service.
type PropertyStore struct {
	conn *sqlx.DB
}

// propertyRow maps the catalog columns, tolerating NULL expected IDs.
type propertyRow struct {
	ID                   string  `db:"id"`
	DisplayName          string  `db:"display_name"`
	TargetURL            string  `db:"target_url"`
	ExpectedAnalyticsID  *string `db:"expected_analytics_id"`
	ExpectedTagManagerID *string `db:"expected_tag_manager_id"`
	UsesConsentMode      bool    `db:"uses_consent_mode"`
	Slug                 string  `db:"slug"`
}

// Active returns every active property, ordered by display name so run
// output is stable between sweeps.
func (s *PropertyStore) Active(ctx context.Context) ([]types.Property, error) {
	var rows []propertyRow
	err := s.conn.SelectContext(ctx, &rows, `
		SELECT id, display_name, target_url, expected_analytics_id,
		       expected_tag_manager_id, uses_consent_mode, slug
		FROM properties
		WHERE is_active
		ORDER BY display_name, id`)
	if err != nil {
		return nil, fmt.Errorf("select active properties: %w", err)
	}

	props := make([]types.Property, 0, len(rows))
	for _, r := range rows {
		props = append(props, r.toProperty())
	}
	return props, nil
}

// ByID returns one property regardless of active flag. Used by the retry
// queue processor, which must re-validate targets deactivated mid-flight.
func (s *PropertyStore) ByID(ctx context.Context, id string) (types.Property, error) {
	var r propertyRow
	err := s.conn.GetContext(ctx, &r, `
		SELECT id, display_name, target_url, expected_analytics_id,
		       expected_tag_manager_id, uses_consent_mode, slug
		FROM properties
		WHERE id = $1`, id)
	if err != nil {
		return types.Property{}, fmt.Errorf("select property %s: %w", id, err)
	}
	return r.toProperty(), nil
}

func (r propertyRow) toProperty() types.Property {
	p := types.Property{
		ID:              r.ID,
		DisplayName:     r.DisplayName,
		TargetURL:       r.TargetURL,
		UsesConsentMode: r.UsesConsentMode,
		Slug:            r.Slug,
	}
	if r.ExpectedAnalyticsID != nil {
		p.ExpectedAnalyticsID = *r.ExpectedAnalyticsID
	}
	if r.ExpectedTagManagerID != nil {
		p.ExpectedTagManagerID = *r.ExpectedTagManagerID
	}
	return p
}
