package adapter

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/roffe/curf"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	for _, dev := range FindDevices() {
		if err := curf.RegisterAdapter(&curf.AdapterInfo{
			Name:               "SocketCAN " + dev,
			Description:        "Linux SocketCAN interface " + dev,
			RequiresSerialPort: false,
			New:                NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	*BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCANFromDevName(dev string) func(cfg *curf.AdapterConfig) (curf.Adapter, error) {
	return func(cfg *curf.AdapterConfig) (curf.Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *curf.AdapterConfig) (curf.Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	d, err := candevice.New(a.cfg.Port)
	if err != nil {
		return err
	}
	a.d = d
	up, err := d.IsUp()
	if err != nil {
		return err
	}
	if !up {
		// virtual interfaces have no bitrate
		if a.cfg.CANRate > 0 {
			if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
				a.Warn(fmt.Sprintf("failed to set bitrate on %s: %v", a.cfg.Port, err))
			}
		}
		if err := d.SetUp(); err != nil {
			return err
		}
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return err
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)
	a.setState(curf.BusStateActive)

	go a.recvManager(ctx)
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) ChannelInfo() string {
	return fmt.Sprintf("SocketCAN %s (%.0f kbit/s)", a.cfg.Port, a.cfg.CANRate)
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *SocketCAN) recvManager(ctx context.Context) {
	filter := make(map[uint32]struct{}, len(a.cfg.CANFilter))
	for _, id := range a.cfg.CANFilter {
		filter[id] = struct{}{}
	}
	for a.rx.Receive() {
		f := a.rx.Frame()
		if len(filter) > 0 {
			if _, ok := filter[f.ID]; !ok {
				continue
			}
		}
		frame := curf.NewFrame(f.ID, f.Data[:f.Length], curf.Incoming)
		frame.Extended = f.IsExtended
		frame.Timestamp = time.Now()
		select {
		case a.recvChan <- frame:
		case <-ctx.Done():
			return
		default:
			a.Error(curf.ErrDroppedFrame)
		}
	}
	select {
	case <-a.closeChan:
	default:
		if err := a.rx.Err(); err != nil {
			a.Fatal(fmt.Errorf("socketcan receive: %w", err))
		}
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			frame := can.Frame{
				ID:         f.Identifier,
				IsExtended: f.Extended,
				Length:     uint8(min(f.DLC(), 8)),
			}
			copy(frame.Data[:], f.Data)
			if err := a.tx.TransmitFrame(ctx, frame); err != nil {
				a.Error(fmt.Errorf("send error: %w", err))
			}
		}
	}
}

func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
