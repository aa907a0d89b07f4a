package devicesim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"avaneesh/blesign-go/pkg/internal/logger"
	"avaneesh/blesign-go/pkg/internal/queue"
	"avaneesh/blesign-go/pkg/link"
)

var (
	ErrAdapterClosed = errors.New("simulated adapter closed")
	ErrNotLinked     = errors.New("device not linked")
	ErrWriteRejected = errors.New("write rejected by platform")
)

// Adapter is an in-memory link.Adapter serving simulated devices.
// Events are queued without bound and delivered in order by one goroutine,
// so link calls never block on the consumer.
type Adapter struct {
	mu      sync.Mutex
	devices map[link.Address]*Device
	linked  map[link.Address]bool
	closed  bool

	queue  *queue.Queue[link.Event]
	events chan link.Event
	done   chan struct{}
	wg     sync.WaitGroup

	logger logger.Logger
}

// NewAdapter creates an adapter with no devices
func NewAdapter(log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	a := &Adapter{
		devices: make(map[link.Address]*Device),
		linked:  make(map[link.Address]bool),
		queue:   queue.New[link.Event](),
		events:  make(chan link.Event),
		done:    make(chan struct{}),
		logger:  log,
	}
	a.wg.Add(1)
	go a.dispatch()
	return a
}

// AddDevice makes a device reachable
func (a *Adapter) AddDevice(d *Device) {
	a.mu.Lock()
	a.devices[d.Address()] = d
	a.mu.Unlock()
}

// Device returns the device at addr, or nil
func (a *Adapter) Device(addr link.Address) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.devices[addr]
}

// DropLink simulates a supervision timeout on a live link
func (a *Adapter) DropLink(addr link.Address) {
	a.mu.Lock()
	wasLinked := a.linked[addr]
	delete(a.linked, addr)
	a.mu.Unlock()

	if wasLinked {
		a.emit(link.Event{Kind: link.EventConnectionState, Address: addr, Status: link.StatusLinkLost})
	}
}

// Connect implements link.Adapter.Connect
func (a *Adapter) Connect(addr link.Address) (link.Conn, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAdapterClosed
	}
	d := a.devices[addr]
	ok := d != nil && !d.currentFaults().FailConnect
	if ok {
		a.linked[addr] = true
	}
	a.mu.Unlock()

	ev := link.Event{Kind: link.EventConnectionState, Address: addr}
	if ok {
		d.reset()
		ev.Connected = true
	} else {
		ev.Status = link.StatusError
	}
	a.emit(ev)
	return &conn{adapter: a, addr: addr}, nil
}

// Events implements link.Adapter.Events
func (a *Adapter) Events() <-chan link.Event {
	return a.events
}

// Close implements link.Adapter.Close
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.queue.Close()
	close(a.done)
	a.wg.Wait()
	close(a.events)
	return nil
}

// emit queues one event for delivery
func (a *Adapter) emit(ev link.Event) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if !closed {
		a.queue.Push(ev)
	}
}

// dispatch delivers queued events in order
func (a *Adapter) dispatch() {
	defer a.wg.Done()

	for {
		ev, ok := a.queue.Pop()
		if !ok {
			select {
			case <-a.queue.Wake():
				continue
			case <-a.done:
				return
			}
		}

		select {
		case a.events <- ev:
		case <-a.done:
			return
		}
	}
}

// device returns the linked device at addr
func (a *Adapter) device(addr link.Address) (*Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrAdapterClosed
	}
	if !a.linked[addr] {
		return nil, fmt.Errorf("%w: %s", ErrNotLinked, addr)
	}
	return a.devices[addr], nil
}

// conn is the link handle of one simulated device
type conn struct {
	adapter *Adapter
	addr    link.Address
}

func (c *conn) Address() link.Address {
	return c.addr
}

func (c *conn) DiscoverServices() error {
	d, err := c.adapter.device(c.addr)
	if err != nil {
		return err
	}
	ev := link.Event{Kind: link.EventServicesDiscovered, Address: c.addr}
	if d.currentFaults().FailDiscovery {
		ev.Status = link.StatusFailure
	}
	c.adapter.emit(ev)
	return nil
}

func (c *conn) EnableNotifications(characteristic uuid.UUID) error {
	if _, err := c.adapter.device(c.addr); err != nil {
		return err
	}
	ev := link.Event{Kind: link.EventDescriptorWritten, Address: c.addr, Characteristic: characteristic}
	if characteristic != link.SignatureReadUUID {
		ev.Status = link.StatusFailure
	}
	c.adapter.emit(ev)
	return nil
}

func (c *conn) RequestMTU(mtu int) error {
	d, err := c.adapter.device(c.addr)
	if err != nil {
		return err
	}
	c.adapter.emit(link.Event{Kind: link.EventMtuChanged, Address: c.addr, MTU: d.negotiate(mtu)})
	return nil
}

func (c *conn) Write(characteristic uuid.UUID, data []byte) error {
	d, err := c.adapter.device(c.addr)
	if err != nil {
		return err
	}
	faults := d.currentFaults()
	if faults.RejectWrites {
		return ErrWriteRejected
	}

	ack := link.Event{Kind: link.EventCharacteristicWrite, Address: c.addr, Characteristic: characteristic}
	if faults.FailWriteAck || characteristic != link.SignatureWriteUUID {
		ack.Status = link.StatusFailure
		c.adapter.emit(ack)
		return nil
	}
	c.adapter.emit(ack)

	for _, n := range d.receive(data) {
		c.adapter.emit(link.Event{
			Kind:           link.EventCharacteristicChanged,
			Address:        c.addr,
			Characteristic: link.SignatureReadUUID,
			Data:           n,
		})
	}
	return nil
}

func (c *conn) Read(characteristic uuid.UUID) error {
	d, err := c.adapter.device(c.addr)
	if err != nil {
		return err
	}
	ev := link.Event{Kind: link.EventCharacteristicRead, Address: c.addr, Characteristic: characteristic}
	if d.currentFaults().FailRead || characteristic != link.PublicKeyUUID {
		ev.Status = link.StatusFailure
	} else {
		ev.Data = d.PublicKey()
	}
	c.adapter.emit(ev)
	return nil
}

func (c *conn) Disconnect() error {
	c.adapter.mu.Lock()
	delete(c.adapter.linked, c.addr)
	closed := c.adapter.closed
	c.adapter.mu.Unlock()

	if closed {
		return ErrAdapterClosed
	}
	c.adapter.emit(link.Event{Kind: link.EventConnectionState, Address: c.addr})
	return nil
}
