package fleet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/hopper/internal/device"
	"github.com/srg/hopper/internal/fleet"
	"github.com/srg/hopper/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ExecutorTestSuite struct {
	FleetSuite
}

func (s *ExecutorTestSuite) send(coord *fleet.Coordinator, address string) fleet.SendOutcome {
	return coord.SendToOne(context.Background(), fleet.Target{Address: address, Payload: []byte("payload")})
}

func (s *ExecutorTestSuite) TestPoolDisabledAlwaysFresh() {
	// GOAL: Verify a disabled pool forces the ephemeral path on every send
	//
	// TEST SCENARIO: UsePool=false, three sends to one panel → three connects → pool stays empty, no session left open

	coord := s.newCoordinator(fastPolicy().WithoutPool())

	for i := 0; i < 3; i++ {
		s.Require().True(s.send(coord, panelA).Success, "send %d MUST succeed", i)
	}

	s.Assert().Equal(3, s.fake.Connects(panelA), "every send MUST open a fresh session")
	s.Assert().Equal(3, s.fake.Disconnects(panelA), "every fresh session MUST be closed")
	s.Assert().Zero(s.pool.Len(), "pool MUST stay empty")
	s.Assert().Zero(s.fake.OpenSessions(), "MUST not leak sessions")
}

func (s *ExecutorTestSuite) TestHeldLinkFastPath() {
	// GOAL: Verify a second send to the same panel reuses the held link
	//
	// TEST SCENARIO: Two sends to panel A with pooling → one connect, two writes → link still connected

	coord := s.newCoordinator(fastPolicy())

	s.Require().True(s.send(coord, panelA).Success, "first send MUST succeed")
	s.Require().True(s.send(coord, panelA).Success, "second send MUST succeed")

	s.Assert().Equal(1, s.fake.Connects(panelA), "fast path MUST not reconnect")
	s.Assert().Equal(2, s.fake.Sends(panelA), "both payloads MUST be written")
	s.Assert().Zero(s.fake.Disconnects(panelA), "held link MUST stay open")

	links := s.pool.Links()
	s.Require().Len(links, 1, "pool MUST hold the link")
	s.Assert().True(links[0].Connected, "link MUST be connected")
}

func (s *ExecutorTestSuite) TestRetryUntilSuccess() {
	// GOAL: Verify failures before the final attempt are retried
	//
	// TEST SCENARIO: Two failed connects then success → success on attempt 3 → each failed session closed

	coord := s.newCoordinator(fastPolicy().WithoutPool())
	boom := errors.New("connection refused")
	s.fake.Script(panelA, testutils.FailConnect(boom), testutils.FailSend(boom), testutils.Succeed())

	outcome := s.send(coord, panelA)

	s.Assert().True(outcome.Success, "MUST succeed on the last attempt")
	s.Assert().Equal(fleet.MessageOK, outcome.Message, "MUST report OK")
	s.Assert().Equal(3, s.fake.Connects(panelA), "MUST use all three attempts")
	s.Assert().Equal(3, s.fake.Disconnects(panelA), "MUST close every attempt's session")
}

func (s *ExecutorTestSuite) TestFinalFailureStopsRetrying() {
	// GOAL: Verify the final failure is reported with a message and nothing else is attempted
	//
	// TEST SCENARIO: All attempts fail → success=false with last error text → exactly Retries connects

	coord := s.newCoordinator(fastPolicy().WithoutPool())
	s.fake.Default(testutils.FailConnect(errors.New("device not found")))

	outcome := s.send(coord, panelA)

	s.Assert().False(outcome.Success, "MUST fail")
	s.Assert().Equal("device not found", outcome.Message, "MUST carry the last error")
	s.Assert().Equal(3, s.fake.Connects(panelA), "MUST stop after Retries attempts")
	s.Assert().Zero(s.fake.OpenSessions(), "MUST not leak sessions")
}

func (s *ExecutorTestSuite) TestTimeoutClosesSession() {
	// GOAL: Verify an attempt exceeding the timeout is abandoned and its session closed
	//
	// TEST SCENARIO: Transport stalls ignoring cancellation → "Connection timeout" → session disconnected

	cases := []struct {
		name     string
		behavior testutils.Behavior
	}{
		{name: "stalled write", behavior: testutils.StallSend()},
		{name: "slow write", behavior: testutils.SlowSend(time.Second)},
		{name: "slow connect", behavior: testutils.Behavior{ConnectDelay: time.Second}},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.fake = testutils.NewFakeFactory()
			coord := s.newCoordinator(fastPolicy().WithRetries(1).WithoutPool())
			s.fake.Script(panelA, tc.behavior)

			start := time.Now()
			outcome := s.send(coord, panelA)
			elapsed := time.Since(start)

			s.Assert().False(outcome.Success, "MUST fail")
			s.Assert().Equal(fleet.MessageTimeout, outcome.Message, "MUST report a connection timeout")
			s.Assert().Equal(1, s.fake.Disconnects(panelA), "MUST close the timed-out session")
			s.Assert().Zero(s.fake.OpenSessions(), "MUST not leak the session")
			s.Assert().Less(elapsed, 500*time.Millisecond, "MUST not wait for the stalled transport")
		})
	}
}

func (s *ExecutorTestSuite) TestTimeoutThenRecover() {
	// GOAL: Verify a timeout on an early attempt is retried like any other failure
	//
	// TEST SCENARIO: Attempt 1 stalls → attempt 2 succeeds → success

	coord := s.newCoordinator(fastPolicy().WithoutPool())
	s.fake.Script(panelA, testutils.StallSend(), testutils.Succeed())

	outcome := s.send(coord, panelA)

	s.Assert().True(outcome.Success, "MUST recover on retry")
	s.Assert().Equal(2, s.fake.Connects(panelA), "MUST use two attempts")
}

func (s *ExecutorTestSuite) TestDeviceTimeoutErrorCountsAsTimeout() {
	// GOAL: Verify a transport reporting its own timeout is classified as a timeout
	//
	// TEST SCENARIO: Connect fails with wrapped device.ErrTimeout → "Connection timeout"

	coord := s.newCoordinator(fastPolicy().WithRetries(1).WithoutPool())
	s.fake.Script(panelA, testutils.FailConnect(errors.Join(errors.New("dial"), device.ErrTimeout)))

	outcome := s.send(coord, panelA)

	s.Assert().Equal(fleet.MessageTimeout, outcome.Message, "MUST report a connection timeout")
}

func (s *ExecutorTestSuite) TestHeldSendFailureFallsBack() {
	// GOAL: Verify a failed held send invalidates the link before the fresh fallback starts
	//
	// TEST SCENARIO: Held write fails → held session closed → fresh session delivers → next send reconnects the slot

	coord := s.newCoordinator(fastPolicy())
	s.fake.Script(panelA, testutils.FailSend(errors.New("write failed")))

	outcome := s.send(coord, panelA)

	s.Require().True(outcome.Success, "fallback MUST deliver the payload")
	s.Assert().Equal([]string{
		"connect:" + panelA,
		"send:" + panelA,
		"disconnect:" + panelA,
		"connect:" + panelA,
		"send:" + panelA,
		"disconnect:" + panelA,
	}, s.fake.Calls(), "held link MUST be closed before the fallback connects")
	s.Assert().Equal(1, s.fake.MaxConcurrent(panelA), "two flows MUST never drive the panel at once")

	links := s.pool.Links()
	s.Require().Len(links, 1, "slot MUST be kept")
	s.Assert().False(links[0].Connected, "link MUST be invalidated")

	s.Require().True(s.send(coord, panelA).Success, "next send MUST succeed")
	s.Assert().Equal(3, s.fake.Connects(panelA), "next send MUST reconnect the held slot")
	s.Assert().True(s.pool.Links()[0].Connected, "link MUST be reconnected")
}

func (s *ExecutorTestSuite) TestHeldConnectFailureFallsBack() {
	// GOAL: Verify a failed first held connect frees the slot and falls back
	//
	// TEST SCENARIO: Held connect fails → slot removed → fresh session succeeds

	coord := s.newCoordinator(fastPolicy())
	s.fake.Script(panelA, testutils.FailConnect(errors.New("busy")))

	outcome := s.send(coord, panelA)

	s.Assert().True(outcome.Success, "fresh fallback MUST deliver")
	s.Assert().Zero(s.pool.Len(), "failed first connect MUST not occupy a slot")
	s.Assert().Zero(s.fake.OpenSessions(), "MUST not leak sessions")
}

func (s *ExecutorTestSuite) TestProgressPhases() {
	// GOAL: Verify the observer sees each panel's phases in order with one final event
	//
	// TEST SCENARIO: Fresh success, fresh failure, held success, timeout → expected phase sequences

	policy := fastPolicy().WithRetries(1)
	policy.PoolCapacity = 1
	coord := s.newCoordinator(policy)
	s.fake.Script(panelB, testutils.FailConnect(errors.New("boom")))
	s.fake.Script(panelC, testutils.StallSend())

	coord.SendToMany(context.Background(), targets("frame", panelA, panelA, panelB, panelC, panelD))
	coord.Close()
	s.coord = nil
	s.pool.DrainAll()

	s.Assert().Equal([]string{
		fleet.PhaseSending, fleet.PhaseSuccess,
		fleet.PhaseSending, fleet.PhaseSuccess,
	}, s.observer.Phases(panelA), "held link MUST report sending then success")
	s.Assert().Equal([]string{
		fleet.PhaseConnecting, fleet.PhaseError("boom"),
	}, s.observer.Phases(panelB), "failure MUST report the error detail")
	s.Assert().Equal([]string{
		fleet.PhaseConnecting, fleet.PhaseSending, fleet.PhaseTimeout,
	}, s.observer.Phases(panelC), "timeout MUST be reported as such")
	s.Assert().Equal([]string{
		fleet.PhaseConnecting, fleet.PhaseSending, fleet.PhaseSuccess,
	}, s.observer.Phases(panelD), "fresh success MUST report every phase")

	finals := 0
	for _, ev := range s.observer.Events() {
		if ev.Final {
			finals++
		}
	}
	s.Assert().Equal(5, finals, "MUST emit one final event per send")
}

func (s *ExecutorTestSuite) TestObserverPanicDoesNotBreakSend() {
	// GOAL: Verify a panicking observer never disturbs delivery
	//
	// TEST SCENARIO: Observer panics on every call → sends succeed → no panic escapes

	policy := fastPolicy()
	pool := fleet.NewLinkPool(policy, s.fake.Factory(), s.helper.Logger)
	calls := 0
	coord, err := fleet.NewCoordinator(pool, s.fake.Factory(), policy, fleet.ObserverFunc(func(string, string, bool) {
		calls++
		panic("observer exploded")
	}), s.helper.Logger)
	s.Require().NoError(err, "MUST create coordinator")

	var outcomes []fleet.SendOutcome
	s.Require().NotPanics(func() {
		outcomes = coord.SendToMany(context.Background(), targets("frame", panelA, panelB))
		coord.Close()
	}, "observer panic MUST be contained")
	pool.DrainAll()

	s.Assert().True(outcomes[0].Success, "panel A MUST succeed")
	s.Assert().True(outcomes[1].Success, "panel B MUST succeed")
	s.Assert().Equal(4, calls, "every event MUST still be delivered")
}

func TestExecutorTestSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}
