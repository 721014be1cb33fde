package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/curf"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

const STNName = "OBDLink SX"

var stnAdapterSpeeds = []int{115200, 38400, 230400, 921600, 2000000, 1000000, 57600}

func init() {
	for _, name := range []string{STNName, "OBDLink MX"} {
		if err := curf.RegisterAdapter(&curf.AdapterInfo{
			Name:               name,
			Description:        "ScanTool STN11xx/STN21xx based adapter",
			RequiresSerialPort: true,
			New:                NewSTN,
		}); err != nil {
			panic(err)
		}
	}
}

type STN struct {
	*BaseAdapter
	port         serial.Port
	canrate      string
	protocol     string
	filter, mask string
	closed       bool
	// holds a token from a write until the adapter answers with its prompt
	semChan chan struct{}
}

func NewSTN(cfg *curf.AdapterConfig) (curf.Adapter, error) {
	stn := &STN{
		BaseAdapter: NewBaseAdapter(STNName, cfg),
		semChan:     make(chan struct{}, 1),
	}
	if err := stn.setCANrate(cfg.CANRate); err != nil {
		return nil, err
	}
	stn.setCANfilter(cfg.CANFilter)
	return stn, nil
}

func (stn *STN) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: stn.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(stn.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %v", stn.cfg.Port, err)
	}
	if err := p.SetReadTimeout(1 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	stn.port = p
	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	err = retry.Do(func() error {
		to := stn.cfg.PortBaudrate
		for _, from := range stnAdapterSpeeds {
			if err := stn.setSpeed(p, mode, from, to); err != nil {
				if stn.cfg.Debug {
					stn.cfg.OnMessage(err.Error())
				}
				continue
			}
			stn.cfg.OnMessage(fmt.Sprintf("Switched adapter baudrate from %d to %d bps", from, to))
			return nil
		}
		return errors.New("failed to switch adapter baudrate")
	},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.OnRetry(func(n uint, err error) {
			stn.cfg.OnMessage(fmt.Sprintf("retry #%d: %v", n, err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		p.Close()
		return err
	}

	initCmds := []string{
		"ATE0",       // echo off
		"ATS0",       // spaces off
		stn.protocol, // CAN protocol
		"ATH1",       // headers on
		"ATAT2",      // aggressive adaptive timing
		"ATCAF0",     // automatic formatting off
		stn.canrate,
		"ATAL",   // allow long messages
		"ATCFC0", // automatic flow control off, ISO-TP runs on our side
		stn.mask,
		stn.filter,
		"STMA", // monitor all
	}
	delay := 15 * time.Millisecond
	time.Sleep(delay)
	for _, c := range initCmds {
		if c == "" {
			continue
		}
		if stn.cfg.Debug {
			stn.cfg.OnMessage(c)
		}
		if _, err := p.Write([]byte(c + "\r")); err != nil {
			p.Close()
			return fmt.Errorf("failed to write %q: %w", c, err)
		}
		time.Sleep(delay)
	}
	p.ResetInputBuffer()

	stn.setState(curf.BusStateActive)
	go stn.recvManager(ctx)
	go stn.sendManager(ctx)
	return nil
}

func (stn *STN) ChannelInfo() string {
	return fmt.Sprintf("%s on %s (%.3f kbit/s, %s)", STNName, stn.cfg.Port, stn.cfg.CANRate, stn.protocol)
}

func (stn *STN) setSpeed(p serial.Port, mode *serial.Mode, from, to int) error {
	mode.BaudRate = from
	if err := p.SetMode(mode); err != nil {
		return err
	}
	start := time.Now()
	for range 2 {
		p.Write([]byte("ATI\r"))
		time.Sleep(20 * time.Millisecond)
		p.ResetInputBuffer()
	}
	errg, _ := errgroup.WithContext(context.Background())
	errg.Go(func() error {
		readbuff := make([]byte, 8)
		buff := bytes.NewBuffer(nil)
		for time.Since(start) < 300*time.Millisecond {
			n, err := p.Read(readbuff)
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
			for _, b := range readbuff[:n] {
				if b != '\r' {
					buff.WriteByte(b)
					continue
				}
				if isSTNIdentity(buff.String()) {
					stn.cfg.OnMessage(buff.String())
					return nil
				}
				buff.Reset()
			}
		}
		return fmt.Errorf("failed to change adapter baudrate from %d to %d bps", from, to)
	})

	p.Write([]byte("STBR" + strconv.Itoa(to) + "\r"))
	time.Sleep(5 * time.Millisecond)
	mode.BaudRate = to
	if err := p.SetMode(mode); err != nil {
		return err
	}
	if err := errg.Wait(); err != nil {
		return err
	}
	p.Write([]byte("\r"))
	p.ResetInputBuffer()
	return nil
}

func isSTNIdentity(line string) bool {
	return strings.HasPrefix(line, "ELM327") || strings.HasPrefix(line, "STN")
}

func (stn *STN) setCANrate(rate float64) error {
	switch rate {
	case 33.3: // MX only
		stn.protocol = "STP61"
		stn.canrate = "STCSWM2"
	case 500:
		stn.protocol = "STP33"
	case 615.384:
		stn.protocol = "STP33"
		stn.canrate = "STCTR8101FC"
	default:
		return &curf.ConfigurationError{Field: "CAN rate", Value: strconv.FormatFloat(rate, 'f', -1, 64), Reason: "unsupported by STN adapters"}
	}
	return nil
}

// setCANfilter computes the ELM style code and mask accepting every id in ids, no ids
// accepts everything
func (stn *STN) setCANfilter(ids []uint32) {
	if len(ids) == 0 {
		stn.filter = "ATCF000"
		stn.mask = "ATCM000"
		return
	}
	var filt uint32 = 0xFFF
	var mask uint32 = 0x000
	for _, id := range ids {
		filt &= id
		mask |= id
	}
	mask = (^mask & 0x7FF) | filt
	stn.filter = fmt.Sprintf("ATCF%03X", filt)
	stn.mask = fmt.Sprintf("ATCM%03X", mask)
}

func (stn *STN) Close() error {
	stn.BaseAdapter.Close()
	stn.closed = true
	if stn.port == nil {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	stn.port.Write([]byte("ATZ\r"))
	time.Sleep(100 * time.Millisecond)
	stn.port.ResetInputBuffer()
	return stn.port.Close()
}

// encodeSTPX renders a transmit command that expects no reply, the adapter is put
// back in monitor mode afterwards
func encodeSTPX(frame *curf.CANFrame) string {
	var id string
	if frame.Extended {
		id = fmt.Sprintf("%08X", frame.Identifier&0x1FFFFFFF)
	} else {
		id = fmt.Sprintf("%03X", frame.Identifier&0x7FF)
	}
	return fmt.Sprintf("STPXh:%s,d:%X,r:0\rSTMA\r", id, frame.Data)
}

func (stn *STN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stn.closeChan:
			return
		case frame := <-stn.sendChan:
			// any byte stops monitoring, wait for the prompt before the command
			stn.semChan <- struct{}{}
			cmd := encodeSTPX(frame)
			if stn.cfg.Debug {
				stn.cfg.OnMessage("<o> " + cmd)
			}
			if _, err := stn.port.Write([]byte("\r" + cmd)); err != nil {
				stn.Fatal(fmt.Errorf("failed to write to com port: %q, %w", cmd, err))
				return
			}
		}
	}
}

func (stn *STN) recvManager(ctx context.Context) {
	buff := bytes.NewBuffer(nil)
	readBuffer := make([]byte, 21)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stn.closeChan:
			return
		default:
		}
		n, err := stn.port.Read(readBuffer)
		if err != nil {
			if !stn.closed {
				stn.Fatal(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		for _, b := range readBuffer[:n] {
			switch b {
			case '>':
				select {
				case <-stn.semChan:
				default:
				}
			case '\r':
				if buff.Len() > 0 {
					stn.handleLine(buff.String())
					buff.Reset()
				}
			default:
				buff.WriteByte(b)
			}
		}
	}
}

func (stn *STN) handleLine(line string) {
	if stn.cfg.Debug {
		stn.cfg.OnMessage("<i> " + line)
	}
	switch line {
	case "CAN ERROR":
		stn.setState(curf.BusStateError)
		stn.Error(errors.New("CAN ERROR"))
	case "?":
		stn.Warn("unknown command")
	case "STOPPED", "NO DATA", "OK", "BUFFER FULL":
	default:
		f, err := decodeSTNFrame(line)
		if err != nil {
			stn.Warn(fmt.Sprintf("failed to decode frame %q: %v", line, err))
			return
		}
		select {
		case stn.recvChan <- f:
		default:
			stn.Error(curf.ErrDroppedFrame)
		}
	}
}

// decodeSTNFrame parses a monitor line, headers on and spaces off. 11 bit identifiers
// give an odd line length, 29 bit ones an even length.
func decodeSTNFrame(line string) (*curf.CANFrame, error) {
	idLen := 3
	if len(line)%2 == 0 {
		idLen = 8
	}
	if len(line) < idLen {
		return nil, fmt.Errorf("short frame")
	}
	id, err := strconv.ParseUint(line[:idLen], 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	data, err := curf.ParseHex(line[idLen:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	if len(data) > 8 {
		return nil, fmt.Errorf("invalid data length: %d", len(data))
	}
	f := curf.NewFrame(uint32(id), data, curf.Incoming)
	f.Extended = idLen == 8
	f.Timestamp = time.Now()
	return f, nil
}
