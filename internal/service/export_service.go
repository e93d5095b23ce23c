package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/venue-booking-api/internal/models"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
	"github.com/noah-isme/venue-booking-api/pkg/export"
)

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type exportBookingSource interface {
	ListByVenueBetween(ctx context.Context, venueID, fromDate, toDate string) ([]models.Booking, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered booking sheet ready to stream to the caller.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// ExportService renders venue booking sheets for administrators.
type ExportService struct {
	bookings exportBookingSource
	venues   venueReader
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(bookings exportBookingSource, venues venueReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{bookings: bookings, venues: venues, csv: csv, pdf: pdf, logger: logger}
}

// BookingSheet renders the venue's bookings in the date range.
func (s *ExportService) BookingSheet(ctx context.Context, venueID, fromDate, toDate string, format ExportFormat) (*ExportFile, error) {
	if _, err := models.DateRange(fromDate, toDate); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid export date range")
	}

	venue, err := s.venues.FindByID(ctx, venueID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "venue not found")
	}

	bookings, err := s.bookings.ListByVenueBetween(ctx, venueID, fromDate, toDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings for export")
	}

	dataset := bookingDataset(bookings)
	title := fmt.Sprintf("%s bookings %s to %s", venue.Name, fromDate, toDate)
	stamp := time.Now().UTC().Format("20060102T150405Z")

	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportFile{
			Name:        fmt.Sprintf("bookings-%s-%s.csv", venueID, stamp),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportFile{
			Name:        fmt.Sprintf("bookings-%s-%s.pdf", venueID, stamp),
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func bookingDataset(bookings []models.Booking) export.Dataset {
	headers := []string{"Event", "Requested By", "Department", "From Date", "To Date", "From Time", "To Time", "Participants", "Status"}
	rows := make([]map[string]string, 0, len(bookings))
	for _, b := range bookings {
		rows = append(rows, map[string]string{
			"Event":        b.EventName,
			"Requested By": b.RequestedBy,
			"Department":   b.Department,
			"From Date":    b.FromDate,
			"To Date":      b.ToDate,
			"From Time":    b.FromTime,
			"To Time":      b.ToTime,
			"Participants": fmt.Sprintf("%d", b.Participants),
			"Status":       string(b.Status),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
