package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

const userColumns = `id, email, full_name, role, department, contact, active, created_at, updated_at`

// UserRepository reads the identity directory mirror used for rule evaluation
// and notification recipient resolution.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// ListActiveByRoles returns the active users holding any of the given roles.
// Used to resolve approval recipients for rule-gated bookings.
func (r *UserRepository) ListActiveByRoles(ctx context.Context, roles []models.UserRole) ([]models.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(roles))
	for _, role := range roles {
		values = append(values, string(role))
	}
	query := fmt.Sprintf(`SELECT %s FROM users WHERE active = TRUE AND role = ANY($1) ORDER BY full_name ASC`, userColumns)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("list users by roles: %w", err)
	}
	return users, nil
}

// FindActiveByRoleInDepartment returns the active users holding a role within
// one department. Used for HOD approval routing.
func (r *UserRepository) FindActiveByRoleInDepartment(ctx context.Context, role models.UserRole, department string) ([]models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE active = TRUE AND role = $1 AND department = $2 ORDER BY full_name ASC`, userColumns)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, role, department); err != nil {
		return nil, fmt.Errorf("list users by role in department: %w", err)
	}
	return users, nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
