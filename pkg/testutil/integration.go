package testutil

import (
	"context"
	"time"

	"github.com/ajitpratap0/finlake/pkg/catalog"
	"github.com/ajitpratap0/finlake/pkg/lake"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// LakeSuite provides a fresh lake and in-memory catalog for every test.
type LakeSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	Lake    *lake.Lake
	Catalog *catalog.Catalog
	started time.Time
}

// SetupTest runs before each test in the suite.
func (s *LakeSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	s.started = time.Now()

	cfg := lake.DefaultConfig()
	cfg.BaseDir = s.T().TempDir()
	lk, err := lake.New(cfg, TestLogger(s.T()))
	require.NoError(s.T(), err)
	s.Lake = lk

	cat, err := catalog.Open(s.ctx, catalog.Config{Enabled: true, Driver: catalog.DriverSQLite, DSN: ":memory:"}, TestLogger(s.T()))
	require.NoError(s.T(), err)
	s.Catalog = cat
}

// TearDownTest runs after each test in the suite.
func (s *LakeSuite) TearDownTest() {
	if s.Catalog != nil {
		s.Catalog.Close()
	}
	s.cancel()
	s.T().Logf("test completed in %v", time.Since(s.started))
}

// Context returns the test context
func (s *LakeSuite) Context() context.Context {
	return s.ctx
}
