package fleet_test

import (
	"time"

	"github.com/srg/hopper/internal/fleet"
	"github.com/srg/hopper/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	panelA = "AA:BB:CC:DD:EE:01"
	panelB = "AA:BB:CC:DD:EE:02"
	panelC = "AA:BB:CC:DD:EE:03"
	panelD = "AA:BB:CC:DD:EE:04"
)

// FleetSuite wires coordinators over a fake radio. Every test gets a fresh
// factory, observer and pool.
type FleetSuite struct {
	suite.Suite

	helper   *testutils.TestHelper
	fake     *testutils.FakeFactory
	observer *testutils.RecordingObserver
	pool     *fleet.LinkPool
	coord    *fleet.Coordinator
}

// fastPolicy keeps the production shape with millisecond timings.
func fastPolicy() fleet.RetryPolicy {
	return fleet.RetryPolicy{
		Timeout:      100 * time.Millisecond,
		Retries:      3,
		WriteDelay:   0,
		PanelDelay:   5 * time.Millisecond,
		SettleDelay:  time.Millisecond,
		AbandonGrace: 20 * time.Millisecond,
		PoolCapacity: 3,
		UsePool:      true,
	}
}

func (s *FleetSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.fake = testutils.NewFakeFactory()
	s.observer = &testutils.RecordingObserver{}
	s.pool = nil
	s.coord = nil
}

func (s *FleetSuite) TearDownTest() {
	if s.coord != nil {
		s.coord.Drain()
		s.coord.Close()
	}
}

// newCoordinator builds a coordinator with a pool sized by policy.
func (s *FleetSuite) newCoordinator(policy fleet.RetryPolicy) *fleet.Coordinator {
	if s.coord != nil {
		s.coord.Drain()
		s.coord.Close()
	}
	s.pool = fleet.NewLinkPool(policy, s.fake.Factory(), s.helper.Logger)
	coord, err := fleet.NewCoordinator(s.pool, s.fake.Factory(), policy, s.observer, s.helper.Logger)
	s.Require().NoError(err, "MUST create coordinator")
	s.coord = coord
	return coord
}

func targets(payload string, addresses ...string) []fleet.Target {
	result := make([]fleet.Target, len(addresses))
	for i, a := range addresses {
		result[i] = fleet.Target{Address: a, Payload: []byte(payload + "-" + a)}
	}
	return result
}
