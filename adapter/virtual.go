package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roffe/curf"
)

const VirtualName = "Virtual"

func init() {
	if err := curf.RegisterAdapter(&curf.AdapterInfo{
		Name:               VirtualName,
		Description:        "In-process loopback bus, nodes sharing a port name see each other",
		RequiresSerialPort: false,
		New:                NewVirtual,
	}); err != nil {
		panic(err)
	}
}

// virtualBus connects every Virtual adapter opened on the same channel name
type virtualBus struct {
	mu    sync.RWMutex
	nodes map[*Virtual]struct{}
}

var (
	virtualMu    sync.Mutex
	virtualBuses = make(map[string]*virtualBus)
)

func getVirtualBus(channel string) *virtualBus {
	virtualMu.Lock()
	defer virtualMu.Unlock()
	bus, ok := virtualBuses[channel]
	if !ok {
		bus = &virtualBus{nodes: make(map[*Virtual]struct{})}
		virtualBuses[channel] = bus
	}
	return bus
}

func (b *virtualBus) attach(v *Virtual) {
	b.mu.Lock()
	b.nodes[v] = struct{}{}
	b.mu.Unlock()
}

func (b *virtualBus) detach(v *Virtual) {
	b.mu.Lock()
	delete(b.nodes, v)
	b.mu.Unlock()
}

func (b *virtualBus) broadcast(from *Virtual, frame *curf.CANFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for node := range b.nodes {
		if node == from {
			continue
		}
		f := frame.Clone()
		f.FrameType = curf.Incoming
		f.Timestamp = time.Now()
		select {
		case node.recvChan <- f:
		default:
			node.Error(curf.ErrDroppedFrame)
		}
	}
}

type Virtual struct {
	*BaseAdapter
	bus *virtualBus
}

// NewVirtual creates a node on the virtual bus named by cfg.Port
func NewVirtual(cfg *curf.AdapterConfig) (curf.Adapter, error) {
	if cfg.Port == "" {
		cfg.Port = "vcan0"
	}
	return &Virtual{
		BaseAdapter: NewBaseAdapter(VirtualName, cfg),
		bus:         getVirtualBus(cfg.Port),
	}, nil
}

func (v *Virtual) Open(ctx context.Context) error {
	v.bus.attach(v)
	v.setState(curf.BusStateActive)
	go v.sendManager(ctx)
	return nil
}

func (v *Virtual) ChannelInfo() string {
	return fmt.Sprintf("%s channel %s (%.0f kbit/s)", VirtualName, v.cfg.Port, v.cfg.CANRate)
}

func (v *Virtual) Close() error {
	v.bus.detach(v)
	v.BaseAdapter.Close()
	return nil
}

func (v *Virtual) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case frame := <-v.sendChan:
			if v.cfg.Debug {
				v.cfg.OnMessage(frame.String())
			}
			v.bus.broadcast(v, frame)
		}
	}
}
