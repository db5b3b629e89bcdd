package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/hopper/internal/device"
)

// Behavior scripts one fake session, from Connect through SendPayload.
type Behavior struct {
	ConnectErr   error
	SendErr      error
	ConnectDelay time.Duration
	SendDelay    time.Duration
	// Stall makes SendPayload ignore its context and block until the
	// session is disconnected, like a wedged transport.
	Stall bool
}

// Succeed is the default behavior.
func Succeed() Behavior { return Behavior{} }

// FailConnect fails the dial with err.
func FailConnect(err error) Behavior { return Behavior{ConnectErr: err} }

// FailSend connects and fails the payload write with err.
func FailSend(err error) Behavior { return Behavior{SendErr: err} }

// SlowSend connects and then takes d to write, honouring cancellation.
func SlowSend(d time.Duration) Behavior { return Behavior{SendDelay: d} }

// StallSend connects and then blocks the write until Disconnect.
func StallSend() Behavior { return Behavior{Stall: true} }

// FakeFactory produces scriptable fake sessions and counts everything they do.
//
// Behaviors are queued per address and consumed one per Connect; when the
// queue for an address is empty the default behavior applies.
//
//	f := testutils.NewFakeFactory()
//	f.Script("AA:BB:CC:DD:EE:01", testutils.FailConnect(errBoom), testutils.Succeed())
//	coord, _ := fleet.NewCoordinator(nil, f.Factory(), policy, nil, logger)
type FakeFactory struct {
	mu          sync.Mutex
	scripts     map[string][]Behavior
	def         Behavior
	created     int
	connects    map[string]int
	sends       map[string]int
	disconnects map[string]int
	payloads    map[string][][]byte
	open        map[*FakeSession]struct{}
	order       []string
	calls       []string
	active      map[string]int
	maxActive   map[string]int
}

// NewFakeFactory creates a factory whose sessions succeed by default.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{
		scripts:     make(map[string][]Behavior),
		connects:    make(map[string]int),
		sends:       make(map[string]int),
		disconnects: make(map[string]int),
		payloads:    make(map[string][][]byte),
		open:        make(map[*FakeSession]struct{}),
		active:      make(map[string]int),
		maxActive:   make(map[string]int),
	}
}

// Script queues behaviors for the next connects to address.
func (f *FakeFactory) Script(address string, behaviors ...Behavior) *FakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	address = device.NormalizeAddress(address)
	f.scripts[address] = append(f.scripts[address], behaviors...)
	return f
}

// Default sets the behavior used when no script is queued.
func (f *FakeFactory) Default(b Behavior) *FakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.def = b
	return f
}

// Factory returns the device.SessionFactory backed by f.
func (f *FakeFactory) Factory() device.SessionFactory {
	return func() device.DeviceSession {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.created++
		return &FakeSession{factory: f, disconnected: make(chan struct{})}
	}
}

// Created returns how many sessions were handed out.
func (f *FakeFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Connects returns the number of Connect calls for address.
func (f *FakeFactory) Connects(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects[device.NormalizeAddress(address)]
}

// TotalConnects returns the number of Connect calls for all addresses.
func (f *FakeFactory) TotalConnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.connects {
		total += n
	}
	return total
}

// Sends returns the number of SendPayload calls for address.
func (f *FakeFactory) Sends(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[device.NormalizeAddress(address)]
}

// Disconnects returns the number of Disconnect calls on sessions that were
// connecting or connected to address.
func (f *FakeFactory) Disconnects(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects[device.NormalizeAddress(address)]
}

// Payloads returns the payloads delivered successfully to address.
func (f *FakeFactory) Payloads(address string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads[device.NormalizeAddress(address)]...)
}

// OpenSessions returns how many sessions called Connect and were never
// disconnected. Non-zero after a finished send means a leaked radio handle.
func (f *FakeFactory) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// ConnectOrder returns addresses in the order Connect was called.
func (f *FakeFactory) ConnectOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// Calls returns every session call as "connect:ADDR", "send:ADDR" or
// "disconnect:ADDR", in the order they started.
func (f *FakeFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// MaxConcurrent returns the highest number of connects and sends that were
// in flight at once for address.
func (f *FakeFactory) MaxConcurrent(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive[device.NormalizeAddress(address)]
}

func (f *FakeFactory) enter(op, address string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+address)
	f.active[address]++
	if f.active[address] > f.maxActive[address] {
		f.maxActive[address] = f.active[address]
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.active[address]--
	}
}

func (f *FakeFactory) nextBehavior(address string) Behavior {
	queue := f.scripts[address]
	if len(queue) == 0 {
		return f.def
	}
	f.scripts[address] = queue[1:]
	return queue[0]
}

// FakeSession is a device.DeviceSession driven by its factory's script.
type FakeSession struct {
	factory *FakeFactory

	mu           sync.Mutex
	address      string
	behavior     Behavior
	connected    bool
	closed       bool
	disconnected chan struct{}
}

func (s *FakeSession) Connect(ctx context.Context, address string, timeout time.Duration) error {
	address = device.NormalizeAddress(address)

	f := s.factory
	f.mu.Lock()
	b := f.nextBehavior(address)
	f.connects[address]++
	f.order = append(f.order, address)
	f.open[s] = struct{}{}
	f.mu.Unlock()
	defer f.enter("connect", address)()

	s.mu.Lock()
	s.address = address
	s.behavior = b
	s.mu.Unlock()

	if err := wait(ctx, b.ConnectDelay, s.disconnected); err != nil {
		return err
	}
	if b.ConnectErr != nil {
		return b.ConnectErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.ErrNotConnected
	}
	s.connected = true
	return nil
}

func (s *FakeSession) SendPayload(ctx context.Context, payload []byte, writeDelay time.Duration) error {
	s.mu.Lock()
	address, b, connected := s.address, s.behavior, s.connected
	s.mu.Unlock()

	f := s.factory
	f.mu.Lock()
	f.sends[address]++
	f.mu.Unlock()
	defer f.enter("send", address)()

	if !connected {
		return device.ErrNotConnected
	}

	if b.Stall {
		<-s.disconnected
		return device.ErrNotConnected
	}
	if err := wait(ctx, b.SendDelay, s.disconnected); err != nil {
		return err
	}
	if b.SendErr != nil {
		return b.SendErr
	}

	f.mu.Lock()
	f.payloads[address] = append(f.payloads[address], append([]byte(nil), payload...))
	f.mu.Unlock()
	return nil
}

func (s *FakeSession) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	address := s.address
	close(s.disconnected)
	s.mu.Unlock()

	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	if address != "" {
		f.disconnects[address]++
		f.calls = append(f.calls, "disconnect:"+address)
	}
	delete(f.open, s)
	return nil
}

// wait sleeps for d unless ctx ends or the session is torn down first.
func wait(ctx context.Context, d time.Duration, disconnected <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-disconnected:
		return device.ErrNotConnected
	}
}
