package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

const venueColumns = `id, name, type, department, capacity, active, under_maintenance, operating_hours, features, created_at, updated_at`

// VenueRepository reads the facilities-owned venue records. This service never
// writes venues.
type VenueRepository struct {
	db *sqlx.DB
}

// NewVenueRepository creates a new venue repository.
func NewVenueRepository(db *sqlx.DB) *VenueRepository {
	return &VenueRepository{db: db}
}

// FindByID loads a venue by id.
func (r *VenueRepository) FindByID(ctx context.Context, id string) (*models.Venue, error) {
	query := fmt.Sprintf(`SELECT %s FROM venues WHERE id = $1`, venueColumns)
	var venue models.Venue
	if err := r.db.GetContext(ctx, &venue, query, id); err != nil {
		return nil, err
	}
	return &venue, nil
}

// ListActive returns all active venues, optionally narrowed to a type.
func (r *VenueRepository) ListActive(ctx context.Context, venueType models.VenueType) ([]models.Venue, error) {
	query := fmt.Sprintf(`SELECT %s FROM venues WHERE active = TRUE`, venueColumns)
	args := []interface{}{}
	if venueType != "" {
		query += ` AND type = $1`
		args = append(args, venueType)
	}
	query += ` ORDER BY name ASC`

	var venues []models.Venue
	if err := r.db.SelectContext(ctx, &venues, query, args...); err != nil {
		return nil, fmt.Errorf("list active venues: %w", err)
	}
	return venues, nil
}
