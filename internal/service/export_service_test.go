package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/venue-booking-api/internal/models"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
)

type mockExportSource struct {
	bookings []models.Booking
}

func (m *mockExportSource) ListByVenueBetween(ctx context.Context, venueID, fromDate, toDate string) ([]models.Booking, error) {
	return m.bookings, nil
}

func newExportFixture() (*ExportService, *mockExportSource) {
	source := &mockExportSource{bookings: []models.Booking{
		{
			EventName:    "Annual Tech Fest",
			RequestedBy:  "user-1",
			Department:   "CSE",
			FromDate:     "2026-09-10",
			ToDate:       "2026-09-10",
			FromTime:     "09:00",
			ToTime:       "17:00",
			Participants: 250,
			Status:       models.BookingStatusApproved,
		},
	}}
	venues := &mockVenueReader{venues: map[string]*models.Venue{
		"venue-1": {ID: "venue-1", Name: "Main Auditorium", Type: models.VenueTypeAuditorium, Active: true},
	}}
	return NewExportService(source, venues, nil, nil, nil), source
}

func TestBookingSheetCSV(t *testing.T) {
	svc, _ := newExportFixture()

	file, err := svc.BookingSheet(context.Background(), "venue-1", "2026-09-01", "2026-09-30", ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasPrefix(file.Name, "bookings-venue-1-"))
	assert.True(t, strings.HasSuffix(file.Name, ".csv"))

	content := string(file.Data)
	assert.Contains(t, content, "Event,Requested By,Department")
	assert.Contains(t, content, "Annual Tech Fest")
	assert.Contains(t, content, "approved")
}

func TestBookingSheetPDF(t *testing.T) {
	svc, _ := newExportFixture()

	file, err := svc.BookingSheet(context.Background(), "venue-1", "2026-09-01", "2026-09-30", ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Name, ".pdf"))
	assert.NotEmpty(t, file.Data)
}

func TestBookingSheetValidatesInput(t *testing.T) {
	svc, _ := newExportFixture()

	_, err := svc.BookingSheet(context.Background(), "venue-1", "2026-09-30", "2026-09-01", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.BookingSheet(context.Background(), "venue-missing", "2026-09-01", "2026-09-30", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.BookingSheet(context.Background(), "venue-1", "2026-09-01", "2026-09-30", ExportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
