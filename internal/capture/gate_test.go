package capture

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/sensor"
)

type stubDriver struct {
	camera.Driver
	writes    int
	writeErr  error
	writePath string
}

func (s *stubDriver) WriteFrame(dir string) (string, error) {
	s.writes++
	if s.writeErr != nil {
		return "", s.writeErr
	}
	return s.writePath, nil
}

func decision(d sensor.Decision) sensor.Notification {
	return sensor.Notification{Decision: &d, State: sensor.StateIdle, At: time.Now()}
}

func TestGate_PassPersistsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO t_inspection ").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO t_inspection_images").WillReturnResult(sqlmock.NewResult(1, 1))

	drv := &stubDriver{writePath: "/data/images/inspection/20260824/frame001_1.bmp"}
	g := NewGate(func() camera.Driver { return drv }, nil, data.InspectionModel{DB: db}, nil, "/data/images/inspection")
	g.SetProduct("WD-0001")

	g.OnSensorUpdate(decision(sensor.DecisionPassLeftToRight))

	assert.Equal(t, 1, drv.writes, "exactly one artifact per pass")
	captures, failures, last := g.Stats()
	assert.EqualValues(t, 1, captures)
	assert.EqualValues(t, 0, failures)
	require.NotNil(t, last)
	assert.Equal(t, int64(7), last.InspectionID)
	assert.Equal(t, "WD-0001", last.ProductNo)
	assert.Empty(t, last.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGate_OtherDecisionsDiscard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ring := camera.NewRing(4)
	ring.Append(camera.BlackFrame(2, 2))

	drv := &stubDriver{}
	g := NewGate(func() camera.Driver { return drv }, ring, data.InspectionModel{DB: db}, nil, "/tmp")

	for _, d := range []sensor.Decision{
		sensor.DecisionReturnFromLeft,
		sensor.DecisionReturnFromRight,
		sensor.DecisionPassRightToLeft,
		sensor.DecisionError,
		sensor.DecisionTimeout,
	} {
		g.OnSensorUpdate(decision(d))
	}

	assert.Zero(t, drv.writes, "no file written outside pass-left-to-right")
	assert.Zero(t, ring.Len(), "buffered frames for the aborted pass discarded")
	assert.NoError(t, mock.ExpectationsWereMet(), "no DB traffic expected")
}

func TestGate_WriteFailureSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := &stubDriver{writeErr: assert.AnError}
	g := NewGate(func() camera.Driver { return drv }, nil, data.InspectionModel{DB: db}, nil, "/tmp")

	g.OnSensorUpdate(decision(sensor.DecisionPassLeftToRight))

	captures, failures, last := g.Stats()
	assert.EqualValues(t, 0, captures)
	assert.EqualValues(t, 1, failures)
	require.NotNil(t, last)
	assert.Contains(t, last.Error, "write frame")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGate_NoDriver(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	g := NewGate(func() camera.Driver { return nil }, nil, data.InspectionModel{DB: db}, nil, "/tmp")
	g.OnSensorUpdate(decision(sensor.DecisionPassLeftToRight))

	_, failures, last := g.Stats()
	assert.EqualValues(t, 1, failures)
	require.NotNil(t, last)
	assert.Contains(t, last.Error, "no active camera driver")
}

func TestGate_SerialAdvancesPerPass(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 1; i <= 2; i++ {
		mock.ExpectExec("INSERT INTO t_inspection ").WillReturnResult(sqlmock.NewResult(int64(i), 1))
		mock.ExpectExec("INSERT INTO t_inspection_images").WillReturnResult(sqlmock.NewResult(int64(i), 1))
	}

	drv := &stubDriver{writePath: "/tmp/a.bmp"}
	g := NewGate(func() camera.Driver { return drv }, nil, data.InspectionModel{DB: db}, nil, "/tmp")
	g.SetProduct("WD-0002")

	g.OnSensorUpdate(decision(sensor.DecisionPassLeftToRight))
	g.OnSensorUpdate(decision(sensor.DecisionPassLeftToRight))

	g.mu.Lock()
	serial := g.serial
	g.mu.Unlock()
	assert.Equal(t, 2, serial)

	// Switching product resets the counter.
	g.SetProduct("WD-0003")
	g.mu.Lock()
	serial = g.serial
	g.mu.Unlock()
	assert.Zero(t, serial)
}
