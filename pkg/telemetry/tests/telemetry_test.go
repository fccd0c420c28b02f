package tests

import (
	"context"
	"testing"
	"time"

	"github.com/chris-alexander-pop/zmqbridge/pkg/telemetry"
	"github.com/stretchr/testify/suite"
)

type TelemetryTestSuite struct {
	suite.Suite
}

func (s *TelemetryTestSuite) TestInit() {
	cfg := telemetry.Config{
		ServiceName: "zmqbridge-test",
		Endpoint:    "localhost:4317", // no listener needed for setup
	}

	shutdown, err := telemetry.Init(cfg)
	s.NoError(err)
	s.NotNil(shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// May error due to connection refused; it must not panic or hang.
	_ = shutdown(ctx)
}

func TestTelemetrySuite(t *testing.T) {
	suite.Run(t, new(TelemetryTestSuite))
}
