package analysis_test

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/series"
	"github.com/aqfield/aqfield/internal/spatial"
	"github.com/aqfield/aqfield/internal/store"
)

var target = time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)

func stations() []airquality.Station {
	return []airquality.Station{
		{Code: "AJM", Name: "Ajusco Medio", City: "cdmx", Lat: 19.40, Lon: -99.20},
		{Code: "BJU", Name: "Benito Juarez", City: "cdmx", Lat: 19.40, Lon: -99.10},
		{Code: "CAM", Name: "Camarones", City: "cdmx", Lat: 19.50, Lon: -99.15},
		{Code: "OBL", Name: "Oblatos", City: "gdl", Lat: 20.70, Lon: -103.30},
	}
}

// dailyReadings adds two readings a day for the seven days ending at target.
func dailyReadings(code string, p airquality.Pollutant, value func(day time.Time) float64) []airquality.Reading {
	var out []airquality.Reading
	for d := 6; d >= 0; d-- {
		day := target.AddDate(0, 0, -d)
		v := value(day)
		out = append(out,
			airquality.Reading{StationCode: code, Pollutant: p, Timestamp: day.Add(8 * time.Hour), Value: v - 1},
			airquality.Reading{StationCode: code, Pollutant: p, Timestamp: day.Add(16 * time.Hour), Value: v + 1},
		)
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func constant(v float64) func(time.Time) float64 {
	return func(time.Time) float64 { return v }
}

func newService(t *testing.T, readings ...[]airquality.Reading) (*analysis.Service, *store.InMemoryRepository) {
	t.Helper()

	repo := store.NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.UpsertStations(ctx, stations()))
	for _, r := range readings {
		require.NoError(t, repo.InsertReadings(ctx, r))
	}

	svc := analysis.NewService(analysis.ServiceConfig{
		Store:  repo,
		Logger: zerolog.Nop(),
	})
	return svc, repo
}

func sparse(code string, p airquality.Pollutant, v float64) []airquality.Reading {
	return []airquality.Reading{
		{StationCode: code, Pollutant: p, Timestamp: target.Add(9 * time.Hour), Value: v},
		{StationCode: code, Pollutant: p, Timestamp: target.AddDate(0, 0, -1).Add(9 * time.Hour), Value: v},
	}
}

func TestService_Run_InterpolatesQualifiedStations(t *testing.T) {
	svc, repo := newService(t,
		dailyReadings("AJM", airquality.PollutantPM10, constant(10)),
		dailyReadings("BJU", airquality.PollutantPM10, constant(20)),
		sparse("CAM", airquality.PollutantPM10, 500),
		dailyReadings("OBL", airquality.PollutantPM10, constant(90)),
	)

	result, err := svc.Run(context.Background(), analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantPM10,
		Date:      target.Add(13 * time.Hour),
		CellSize:  0.05,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{"AJM", "BJU"}, result.Qualified)
	require.Len(t, result.Coverage, 3)
	assert.Equal(t, "CAM", result.Coverage[2].Location)
	assert.InDelta(t, 2.0/7, result.Coverage[2].Ratio, 1e-9)

	require.Len(t, result.Points, 2)
	assert.InDelta(t, 10, result.Points[0].Value, 1e-9)
	assert.InDelta(t, 20, result.Points[1].Value, 1e-9)

	require.Len(t, result.Grid.Cells, 3)
	assert.InDelta(t, 10, result.Grid.Cells[0].Value, 1e-6)
	assert.InDelta(t, 15, result.Grid.Cells[1].Value, 1e-6)
	assert.InDelta(t, 20, result.Grid.Cells[2].Value, 1e-6)
	assert.Zero(t, result.OutOfRange)

	stored, err := repo.GetGrid(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, target, stored.Date)
	assert.Equal(t, airquality.ModeConcentration, stored.Mode)
	assert.Len(t, stored.Cells, 3)
}

func TestService_Run_ConvertsAQI(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantCO, constant(50)),
		dailyReadings("BJU", airquality.PollutantCO, constant(75)),
	)

	result, err := svc.Run(context.Background(), analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantCO,
		Date:      target,
		Mode:      airquality.ModeAQI,
		CellSize:  0.05,
	})
	require.NoError(t, err)

	require.Len(t, result.Points, 2)
	assert.InDelta(t, 4.4, result.Points[0].Value, 1e-9)
	assert.InDelta(t, 6.9, result.Points[1].Value, 0.05)
}

func TestService_Run_CountsOutOfRange(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantO3, constant(50)),
		dailyReadings("BJU", airquality.PollutantO3, constant(350)),
	)

	result, err := svc.Run(context.Background(), analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantO3,
		Date:      target,
		Mode:      airquality.ModeAQI,
		CellSize:  0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.OutOfRange)
	require.Len(t, result.Points, 2)
	assert.InDelta(t, 54, result.Points[0].Value, 1e-9)
	assert.Equal(t, 0.0, result.Points[1].Value)
}

func TestService_Run_MasksOutliers(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantCO, constant(10)),
		dailyReadings("BJU", airquality.PollutantCO, constant(30)),
	)

	result, err := svc.Run(context.Background(), analysis.Request{
		City:         "cdmx",
		Pollutant:    airquality.PollutantCO,
		Date:         target,
		CellSize:     0.05,
		MaskOutliers: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"AJM", "BJU"}, result.Qualified)
	require.Len(t, result.Points, 1)
	assert.Equal(t, "AJM", result.Points[0].Location)
	require.Len(t, result.Grid.Cells, 1)
	assert.InDelta(t, 10, result.Grid.Cells[0].Value, 1e-9)
}

func TestService_Run_Smooths(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantNO2, constant(10)),
		dailyReadings("BJU", airquality.PollutantNO2, func(day time.Time) float64 {
			if day.Equal(target) {
				return 27
			}
			return 20
		}),
	)

	result, err := svc.Run(context.Background(), analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantNO2,
		Date:      target,
		CellSize:  0.05,
		Smooth:    true,
	})
	require.NoError(t, err)

	require.Len(t, result.Points, 2)
	assert.InDelta(t, 10, result.Points[0].Value, 1e-9)
	assert.InDelta(t, 21, result.Points[1].Value, 1e-9)
}

func TestService_Run_NoQualifiedStations(t *testing.T) {
	svc, repo := newService(t, sparse("AJM", airquality.PollutantSO2, 5))

	result, err := svc.Run(context.Background(), analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantSO2,
		Date:      target,
	})
	require.NoError(t, err)

	assert.Empty(t, result.Qualified)
	assert.NotNil(t, result.Qualified)
	assert.Empty(t, result.Points)
	assert.Empty(t, result.Grid.Cells)

	_, err = repo.GetGrid(context.Background(), result.RunID)
	assert.NoError(t, err)
}

func TestService_Run_NoReadingsOnTargetDay(t *testing.T) {
	var readings []airquality.Reading
	for _, r := range dailyReadings("AJM", airquality.PollutantCO, constant(5)) {
		if r.Timestamp.Before(target) {
			readings = append(readings, r)
		}
	}
	svc, _ := newService(t, readings)

	result, err := svc.Run(context.Background(), analysis.Request{
		City:              "cdmx",
		Pollutant:         airquality.PollutantCO,
		Date:              target,
		CoverageThreshold: ptr(0.5),
		CellSize:          0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"AJM"}, result.Qualified)
	assert.Empty(t, result.Points)
	require.Len(t, result.Grid.Cells, 1)
	assert.Equal(t, 1, result.Grid.Absent())
}

func TestService_Run_ZeroThresholdKeepsSparseStations(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantPM10, constant(10)),
		dailyReadings("BJU", airquality.PollutantPM10, constant(20)),
		sparse("CAM", airquality.PollutantPM10, 30),
	)

	result, err := svc.Run(context.Background(), analysis.Request{
		City:              "cdmx",
		Pollutant:         airquality.PollutantPM10,
		Date:              target,
		CoverageThreshold: ptr(0),
		CellSize:          0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"AJM", "BJU", "CAM"}, result.Qualified)
	require.Len(t, result.Points, 3)
	assert.Equal(t, "CAM", result.Points[2].Location)
	assert.InDelta(t, 19.50, result.Points[2].Lat, 1e-9)
}

func TestService_Run_IgnoresStationsAddedAfterCaching(t *testing.T) {
	ctx := context.Background()
	repo := store.NewInMemoryRepository()
	require.NoError(t, repo.UpsertStations(ctx, stations()[:2]))
	require.NoError(t, repo.InsertReadings(ctx, dailyReadings("AJM", airquality.PollutantPM10, constant(10))))
	require.NoError(t, repo.InsertReadings(ctx, dailyReadings("BJU", airquality.PollutantPM10, constant(20))))

	svc := analysis.NewService(analysis.ServiceConfig{Store: repo, Logger: zerolog.Nop()})
	req := analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantPM10,
		Date:      target,
		CellSize:  0.05,
	}

	_, err := svc.Run(ctx, req)
	require.NoError(t, err)

	// CAM enters the registry while the cached station list is still fresh.
	require.NoError(t, repo.UpsertStations(ctx, stations()[2:3]))
	require.NoError(t, repo.InsertReadings(ctx, dailyReadings("CAM", airquality.PollutantPM10, constant(500))))

	result, err := svc.Run(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []string{"AJM", "BJU"}, result.Qualified)
	require.Len(t, result.Points, 2)
	for _, p := range result.Points {
		assert.NotEqual(t, "CAM", p.Location)
		assert.NotZero(t, p.Lat)
		assert.NotZero(t, p.Lon)
	}
	assert.InDelta(t, 19.40, result.Grid.Box.MinLat, 1e-9)
	require.Len(t, result.Grid.Cells, 3)
}

func TestService_Run_Clip(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantPM25, constant(10)),
		dailyReadings("BJU", airquality.PollutantPM25, constant(20)),
	)

	boundary := orb.Polygon{orb.Ring{
		{-99.22, 19.30}, {-99.12, 19.30}, {-99.12, 19.50}, {-99.22, 19.50}, {-99.22, 19.30},
	}}

	result, err := svc.Run(context.Background(), analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantPM25,
		Date:      target,
		CellSize:  0.05,
		Clip:      boundary,
	})
	require.NoError(t, err)

	require.Len(t, result.Grid.Cells, 2)
	assert.InDelta(t, -99.20, result.Grid.Cells[0].Lon, 1e-9)
	assert.InDelta(t, -99.15, result.Grid.Cells[1].Lon, 1e-9)
}

func TestService_Run_InvalidRequest(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		name string
		req  analysis.Request
	}{
		{"missing city", analysis.Request{Pollutant: airquality.PollutantCO, Date: target}},
		{"unknown pollutant", analysis.Request{City: "cdmx", Pollutant: "NH3", Date: target}},
		{"missing date", analysis.Request{City: "cdmx", Pollutant: airquality.PollutantCO}},
		{"bad mode", analysis.Request{City: "cdmx", Pollutant: airquality.PollutantCO, Date: target, Mode: "ratio"}},
		{"bad aggregation", analysis.Request{City: "cdmx", Pollutant: airquality.PollutantCO, Date: target, Agg: "max"}},
		{"threshold above one", analysis.Request{City: "cdmx", Pollutant: airquality.PollutantCO, Date: target, CoverageThreshold: ptr(1.5)}},
		{"smoothing window too long", analysis.Request{City: "cdmx", Pollutant: airquality.PollutantCO, Date: target, Smooth: true, SmoothingWindow: analysis.MaxSmoothingWindow + 1}},
		{"span too long", analysis.Request{City: "cdmx", Pollutant: airquality.PollutantCO, Date: target,
			Window: series.RangeWindow{From: target.AddDate(-20, 0, 0), To: target}}},
		{"negative cell size", analysis.Request{City: "cdmx", Pollutant: airquality.PollutantCO, Date: target, CellSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, analysis.ErrInvalidRequest)
		})
	}
}

func TestService_Run_RejectsOversizedLattice(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantCO, constant(10)),
		dailyReadings("CAM", airquality.PollutantCO, constant(20)),
	)

	_, err := svc.Run(context.Background(), analysis.Request{
		City:      "cdmx",
		Pollutant: airquality.PollutantCO,
		Date:      target,
		CellSize:  1e-9,
	})
	assert.ErrorIs(t, err, analysis.ErrInvalidRequest)
	assert.ErrorIs(t, err, spatial.ErrLatticeTooLarge)
}

func TestService_CoverageReport(t *testing.T) {
	svc, _ := newService(t,
		dailyReadings("AJM", airquality.PollutantPM10, constant(10)),
		sparse("BJU", airquality.PollutantPM10, 20),
	)

	report, err := svc.CoverageReport(context.Background(), "cdmx", airquality.PollutantPM10,
		series.RangeWindow{From: target.AddDate(0, 0, -6), To: target}, nil)
	require.NoError(t, err)

	assert.Equal(t, series.DefaultCoverageThreshold, report.Threshold)
	assert.Equal(t, []string{"AJM"}, report.Qualified)
	require.Len(t, report.Stats, 3)
	assert.Equal(t, 7, report.Stats[0].Present)
	assert.Equal(t, 7, report.Stats[0].Total)
	assert.Equal(t, 2, report.Stats[1].Present)
	assert.Equal(t, 0, report.Stats[2].Present)
}

func TestService_Convert(t *testing.T) {
	svc, _ := newService(t)

	result, err := svc.Convert(airquality.PollutantCO, 75)
	require.NoError(t, err)
	assert.True(t, result.InRange)
	assert.Equal(t, "ppm", result.Unit)
	assert.InDelta(t, 6.9, result.Concentration, 0.05)
	require.NotNil(t, result.IMECA)
	assert.InDelta(t, result.Concentration*100/11, *result.IMECA, 1e-9)
	assert.Equal(t, airquality.CategoryModerate, result.Category)

	result, err = svc.Convert(airquality.PollutantPM25, 75)
	require.NoError(t, err)
	assert.Nil(t, result.IMECA)
	assert.Equal(t, airquality.CategoryUnknown, result.Category)

	result, err = svc.Convert(airquality.PollutantO3, 400)
	require.NoError(t, err)
	assert.False(t, result.InRange)
	assert.Equal(t, 0.0, result.Concentration)

	_, err = svc.Convert("NH3", 10)
	assert.ErrorIs(t, err, analysis.ErrInvalidRequest)
}

func TestService_GetGrid_NotFound(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.GetGrid(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrGridNotFound)
}
