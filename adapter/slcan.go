package adapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/albenik/bcd"
	"github.com/avast/retry-go"
	"github.com/roffe/curf"
	"go.bug.st/serial"
)

const SLCanName = "SLCan"

func init() {
	if err := curf.RegisterAdapter(&curf.AdapterInfo{
		Name:               SLCanName,
		Description:        "Lawicel / Canable SLCan adapter",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

var slcanRates = map[float64]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

type SLCan struct {
	*BaseAdapter
	port   serial.Port
	closed bool

	mu      sync.Mutex
	version string
}

func NewSLCan(cfg *curf.AdapterConfig) (curf.Adapter, error) {
	if _, ok := slcanRates[cfg.CANRate]; !ok {
		return nil, &curf.ConfigurationError{Field: "CAN rate", Value: strconv.FormatFloat(cfg.CANRate, 'f', -1, 64), Reason: "unsupported by slcan"}
	}
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = 115200
	}
	return &SLCan{
		BaseAdapter: NewBaseAdapter(SLCanName, cfg),
	}, nil
}

func (sl *SLCan) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	err := retry.Do(
		func() error {
			p, err := serial.Open(sl.cfg.Port, mode)
			if err != nil {
				return fmt.Errorf("failed to open com port %q : %v", sl.cfg.Port, err)
			}
			if err := sl.setup(p); err != nil {
				p.Close()
				return err
			}
			sl.port = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			sl.cfg.OnMessage(fmt.Sprintf("retry %d: %v", n+1, err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	sl.setState(curf.BusStateActive)
	go sl.sendManager(ctx)
	go sl.recvManager(ctx)
	return nil
}

// setup closes any open channel, sets the bitrate, asks for the version and opens the channel
func (sl *SLCan) setup(p serial.Port) error {
	if err := p.SetReadTimeout(3 * time.Millisecond); err != nil {
		return err
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()
	for _, cmd := range []string{"C", slcanRates[sl.cfg.CANRate], "V", "O"} {
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			return fmt.Errorf("failed to write %q: %w", cmd, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (sl *SLCan) ChannelInfo() string {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	info := fmt.Sprintf("%s on %s (%.0f kbit/s)", SLCanName, sl.cfg.Port, sl.cfg.CANRate)
	if sl.version != "" {
		info += " " + sl.version
	}
	return info
}

func (sl *SLCan) Close() error {
	sl.BaseAdapter.Close()
	sl.closed = true
	if sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed {
				sl.Fatal(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(ctx, buf, readBuf[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	outBuf := make([]byte, 0, 64)
	status := time.NewTicker(2 * time.Second)
	defer status.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.closeChan:
			return
		case <-status.C:
			if _, err := sl.port.Write([]byte("F\r")); err != nil {
				sl.Error(fmt.Errorf("failed to query status: %w", err))
			}
		case frame := <-sl.sendChan:
			outBuf = encodeSLCanFrame(outBuf[:0], frame)
			if _, err := sl.port.Write(outBuf); err != nil {
				sl.Error(fmt.Errorf("failed to write to com port: %w", err))
				continue
			}
			if sl.cfg.Debug {
				log.Println(">> " + string(outBuf))
			}
		}
	}
}

// encodeSLCanFrame appends t<iii><l><dd..>\r or T<iiiiiiii><l><dd..>\r to buf
func encodeSLCanFrame(buf []byte, frame *curf.CANFrame) []byte {
	dlc := min(frame.DLC(), 8)
	if frame.Extended {
		buf = append(buf, 'T')
		buf = append(buf, fmt.Sprintf("%08X", frame.Identifier&0x1FFFFFFF)...)
	} else {
		buf = append(buf, 't')
		buf = append(buf, fmt.Sprintf("%03X", frame.Identifier&0x7FF)...)
	}
	buf = append(buf, nybbleToHex(byte(dlc)))
	for i := range dlc {
		buf = append(buf, nybbleToHex(frame.Data[i]>>4), nybbleToHex(frame.Data[i]&0xF))
	}
	return append(buf, '\r')
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(ctx context.Context, buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case 0x07:
			if sl.cfg.Debug {
				sl.Warn("slcan command rejected")
			}
			buf = buf[:0]
		case '\r':
			if len(buf) == 0 {
				continue
			}
			sl.handleLine(ctx, buf)
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func (sl *SLCan) handleLine(ctx context.Context, line []byte) {
	if sl.cfg.Debug {
		log.Printf("<< %s", string(line))
	}
	switch line[0] {
	case 't', 'T':
		f, err := decodeSLCanFrame(line)
		if err != nil {
			sl.cfg.OnMessage(fmt.Sprintf("%v: %X", err, line))
			return
		}
		select {
		case sl.recvChan <- f:
		case <-ctx.Done():
		default:
			sl.Error(curf.ErrDroppedFrame)
		}
	case 'V':
		v, err := decodeSLCanVersion(line)
		if err != nil {
			sl.Warn(err.Error())
			return
		}
		sl.mu.Lock()
		sl.version = v
		sl.mu.Unlock()
	case 'F':
		state, err := decodeSLCanStatus(line)
		if err != nil {
			sl.Warn(err.Error())
			return
		}
		sl.setState(state)
	case 'z', 'Z':
	default:
		sl.Warn("Unknown>> " + string(line))
	}
}

func decodeSLCanFrame(buff []byte) (*curf.CANFrame, error) {
	idLen := 3
	if buff[0] == 'T' {
		idLen = 8
	}
	if len(buff) < idLen+2 {
		return nil, fmt.Errorf("short frame")
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	dataLen, err := strconv.ParseUint(string(buff[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > 8 {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	start := 2 + idLen
	if len(buff) < start+int(dataLen)*2 {
		return nil, fmt.Errorf("frame body too short")
	}
	data, err := hex.DecodeString(string(buff[start : start+int(dataLen)*2]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	f := curf.NewFrame(uint32(id), data, curf.Incoming)
	f.Extended = buff[0] == 'T'
	f.Timestamp = time.Now()
	return f, nil
}

// decodeSLCanVersion decodes Vhhss where hh and ss are BCD hardware and software versions
func decodeSLCanVersion(line []byte) (string, error) {
	if len(line) < 5 {
		return "", fmt.Errorf("short version response %q", line)
	}
	raw, err := hex.DecodeString(string(line[1:5]))
	if err != nil {
		return "", fmt.Errorf("invalid version response %q: %w", line, err)
	}
	v := bcd.ToUint16(raw)
	hw, sw := v/100, v%100
	return fmt.Sprintf("hw %d.%d sw %d.%d", hw/10, hw%10, sw/10, sw%10), nil
}

/*
Status flags, one hex byte
Bit 0 CAN receive FIFO queue full
Bit 1 CAN transmit FIFO queue full
Bit 2 Error warning (EI)
Bit 3 Data Overrun (DOI)
Bit 5 Error Passive (EPI)
Bit 6 Arbitration Lost (ALI)
Bit 7 Bus Error (BEI)
*/
func decodeSLCanStatus(line []byte) (curf.BusState, error) {
	if len(line) < 3 {
		return curf.BusStateUnknown, fmt.Errorf("short status response %q", line)
	}
	flags, err := strconv.ParseUint(string(line[1:3]), 16, 8)
	if err != nil {
		return curf.BusStateUnknown, fmt.Errorf("invalid status response %q: %w", line, err)
	}
	switch {
	case flags&(1<<7) != 0:
		return curf.BusStateError, nil
	case flags&(1<<5) != 0:
		return curf.BusStatePassive, nil
	default:
		return curf.BusStateActive, nil
	}
}
