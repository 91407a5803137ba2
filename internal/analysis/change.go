package analysis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/series"
)

// ChangeRequest asks for the year-over-year change of a pollutant.
type ChangeRequest struct {
	City      string
	Pollutant airquality.Pollutant
	Date      time.Time

	// Agg reduces the readings of one day (default: service default).
	Agg series.AggFunc

	// MaskOutliers drops daily values above the pollutant's outlier ceiling.
	MaskOutliers bool
}

// StationChange is the change of one station. Absent values are NaN.
type StationChange struct {
	Station  string
	Current  float64
	Previous float64
	Change   float64
}

// ChangeReport is the year-over-year change per station.
type ChangeReport struct {
	City      string
	Pollutant airquality.Pollutant
	Date      time.Time
	Prior     time.Time
	Stations  []StationChange
}

// YearOverYear compares the daily value of every station of a city on
// req.Date with the same calendar day one year earlier.
func (s *Service) YearOverYear(ctx context.Context, req ChangeRequest) (*ChangeReport, error) {
	if req.Agg == "" {
		req.Agg = s.defaults.Agg
	}
	check := Request{City: req.City, Pollutant: req.Pollutant, Date: req.Date, Agg: req.Agg}
	if err := check.Validate(); err != nil {
		return nil, err
	}

	date := series.Day(req.Date)
	prior := date.AddDate(-1, 0, 0)

	ctx, span := s.tracer.Start(ctx, "analysis.YearOverYear", trace.WithAttributes(
		attribute.String("engine.city", req.City),
		attribute.String("engine.pollutant", string(req.Pollutant)),
		attribute.String("engine.date", date.Format(time.DateOnly)),
	))
	defer span.End()

	report, err := s.yearOverYear(ctx, req, date, prior)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return report, nil
}

func (s *Service) yearOverYear(ctx context.Context, req ChangeRequest, date, prior time.Time) (*ChangeReport, error) {
	stations, err := s.stations.Stations(ctx, req.City)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	// Only the two compared days are read; the rows in between stay absent.
	base := Request{City: req.City, Pollutant: req.Pollutant, Agg: req.Agg}
	current, err := s.dailyMatrix(ctx, base, stations, date, date)
	if err != nil {
		return nil, err
	}
	previous, err := s.dailyMatrix(ctx, base, stations, prior, prior)
	if err != nil {
		return nil, err
	}

	locations := current.Locations()
	matrix := series.NewMatrix(req.Pollutant, []time.Time{prior, date}, locations)
	for _, loc := range locations {
		if v, ok := current.Get(date, loc); ok {
			matrix.Set(date, loc, v)
		}
		if v, ok := previous.Get(prior, loc); ok {
			matrix.Set(prior, loc, v)
		}
	}

	if req.MaskOutliers {
		meta, err := airquality.MetadataFor(req.Pollutant)
		if err != nil {
			return nil, err
		}
		matrix = series.MaskOutliers(matrix, meta.OutlierCeiling)
	}

	changes := series.YearOverYear(matrix, date)

	report := &ChangeReport{
		City:      req.City,
		Pollutant: req.Pollutant,
		Date:      date,
		Prior:     prior,
		Stations:  make([]StationChange, len(locations)),
	}
	for i, loc := range locations {
		cur, _ := matrix.Get(date, loc)
		prev, _ := matrix.Get(prior, loc)
		report.Stations[i] = StationChange{
			Station:  loc,
			Current:  cur,
			Previous: prev,
			Change:   changes[loc],
		}
	}

	s.logger.Debug().
		Str("city", req.City).
		Str("pollutant", string(req.Pollutant)).
		Int("stations", len(locations)).
		Msg("year-over-year change computed")

	return report, nil
}
