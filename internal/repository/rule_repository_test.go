package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

func newRuleRepoMock(t *testing.T) (*RuleRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewRuleRepository(sqlxDB), mock, func() { _ = sqlxDB.Close() }
}

func ruleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "scope", "venue_type", "venue_id", "department", "user_role", "max_advance_days", "min_advance_hours", "max_duration_hours", "min_duration_hours", "blackouts", "max_participants", "min_participants", "overbooking_tolerance", "requires_faculty_approval", "requires_admin_approval", "requires_hod_approval", "auto_approve", "approval_time_limit_hours", "max_per_day", "max_per_week", "max_per_month", "prevent_concurrent", "cooldown_hours", "active", "priority", "effective_from", "effective_until", "created_by", "created_at", "updated_at"})
}

func TestRuleRepositoryListApplicable(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	rows := ruleRows().AddRow(
		"rule-1", "lab advance notice", "venue_type", "lab", nil, nil, nil,
		30, 24, nil, nil, []byte(`{}`), nil, nil, nil,
		false, false, true, false, nil,
		nil, nil, nil, false, nil,
		true, 10, nil, nil, "admin-1", time.Now(), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`AND (venue_type IS NULL OR venue_type = $1)`)).
		WithArgs(models.VenueTypeLab, "venue-1", "CSE", models.RoleStudent).
		WillReturnRows(rows)

	rules, err := repo.ListApplicable(context.Background(), models.RuleScopeQuery{
		VenueType:  models.VenueTypeLab,
		VenueID:    "venue-1",
		Department: "CSE",
		Role:       models.RoleStudent,
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule-1", rules[0].ID)
	require.NotNil(t, rules[0].MinAdvanceBookingHours)
	assert.Equal(t, 24, *rules[0].MinAdvanceBookingHours)
	assert.True(t, rules[0].RequiresHODApproval)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryList(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM booking_rules WHERE 1=1 AND scope = $1 AND active = TRUE ORDER BY priority DESC, created_at ASC`)).
		WithArgs(models.RuleScopeGlobal).
		WillReturnRows(ruleRows())

	rules, err := repo.List(context.Background(), models.RuleScopeGlobal, true)
	require.NoError(t, err)
	assert.Empty(t, rules)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCreateAssignsID(t *testing.T) {
	repo, mock, cleanup := newRuleRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO booking_rules`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rule := &models.BookingRule{Name: "weekend blackout", Scope: models.RuleScopeGlobal, Active: true}
	require.NoError(t, repo.Create(context.Background(), rule))
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
