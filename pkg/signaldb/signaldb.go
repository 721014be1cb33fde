// Package signaldb loads DBC message databases and converts between signal values
// and frame payloads.
package signaldb

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/roffe/curf"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/dbc"
)

type Database struct {
	Messages []*Message
	Nodes    []string

	byName   map[string]*Message
	byID     map[uint32]*Message
	bySignal map[string]*Message
}

type Message struct {
	Name     string
	ID       uint32
	Extended bool
	Length   int
	Sender   string
	Signals  []*Signal
}

type Signal struct {
	Name      string
	Start     uint8
	Size      uint8
	BigEndian bool
	Signed    bool
	Factor    float64
	Offset    float64
	Min       float64
	Max       float64
	Unit      string
	Receivers []string
}

// Load reads and parses a DBC file
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read database: %w", err)
	}
	return Parse(path, data)
}

// Parse parses DBC source, name is only used in error messages
func Parse(name string, data []byte) (*Database, error) {
	p := dbc.NewParser(name, data)
	if err := p.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse database: %w", err)
	}
	db := &Database{
		byName:   make(map[string]*Message),
		byID:     make(map[uint32]*Message),
		bySignal: make(map[string]*Message),
	}
	for _, def := range p.Defs() {
		switch d := def.(type) {
		case *dbc.NodesDef:
			for _, n := range d.NodeNames {
				db.Nodes = append(db.Nodes, string(n))
			}
		case *dbc.MessageDef:
			// holds signals not mapped to any message
			if d.Name == "VECTOR__INDEPENDENT_SIG_MSG" {
				continue
			}
			msg := &Message{
				Name:     string(d.Name),
				ID:       d.MessageID.ToCAN(),
				Extended: d.MessageID.IsExtended(),
				Length:   int(d.Size),
				Sender:   string(d.Transmitter),
			}
			for _, s := range d.Signals {
				sig := &Signal{
					Name:      string(s.Name),
					Start:     uint8(s.StartBit),
					Size:      uint8(s.Size),
					BigEndian: s.IsBigEndian,
					Signed:    s.IsSigned,
					Factor:    s.Factor,
					Offset:    s.Offset,
					Min:       s.Minimum,
					Max:       s.Maximum,
					Unit:      s.Unit,
				}
				for _, r := range s.Receivers {
					sig.Receivers = append(sig.Receivers, string(r))
				}
				msg.Signals = append(msg.Signals, sig)
			}
			db.Messages = append(db.Messages, msg)
		}
	}
	sort.Slice(db.Messages, func(i, j int) bool { return db.Messages[i].ID < db.Messages[j].ID })
	for _, msg := range db.Messages {
		db.byName[msg.Name] = msg
		db.byID[msg.ID] = msg
		for _, sig := range msg.Signals {
			if _, ok := db.bySignal[sig.Name]; !ok {
				db.bySignal[sig.Name] = msg
			}
		}
	}
	return db, nil
}

func (db *Database) MessageByName(name string) (*Message, error) {
	if m, ok := db.byName[name]; ok {
		return m, nil
	}
	return nil, &curf.LookupError{Kind: "message", Name: name}
}

func (db *Database) MessageByID(id uint32) (*Message, error) {
	if m, ok := db.byID[id]; ok {
		return m, nil
	}
	return nil, &curf.LookupError{Kind: "message", Name: fmt.Sprintf("0x%03X", id)}
}

// MessageBySignal returns the first message, ordered by identifier, that carries the signal
func (db *Database) MessageBySignal(signal string) (*Message, error) {
	if m, ok := db.bySignal[signal]; ok {
		return m, nil
	}
	return nil, &curf.LookupError{Kind: "signal", Name: signal}
}

// DefaultNode returns the first node declared in the database
func (db *Database) DefaultNode() (string, error) {
	if len(db.Nodes) == 0 {
		return "", &curf.LookupError{Kind: "node", Name: "<default>"}
	}
	return db.Nodes[0], nil
}

func (db *Database) HasNode(name string) bool {
	for _, n := range db.Nodes {
		if n == name {
			return true
		}
	}
	return false
}

func (m *Message) Signal(name string) (*Signal, error) {
	for _, s := range m.Signals {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, &curf.LookupError{Kind: "signal", Name: m.Name + "." + name}
}

// Frame wraps a payload in a frame carrying the message identifier
func (m *Message) Frame(data []byte) *curf.CANFrame {
	f := curf.NewFrame(m.ID, data, curf.Outgoing)
	f.Extended = m.Extended
	return f
}

// Encode packs physical values into a payload, every signal must be given
func (m *Message) Encode(values map[string]float64) ([]byte, error) {
	var data can.Data
	for _, s := range m.Signals {
		v, ok := values[s.Name]
		if !ok {
			return nil, fmt.Errorf("%s: missing value for signal %s", m.Name, s.Name)
		}
		if err := s.encode(&data, v); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
	}
	for name := range values {
		if _, err := m.Signal(name); err != nil {
			return nil, err
		}
	}
	return data[:min(m.Length, len(data))], nil
}

// EncodeSignal packs one signal, every sibling signal is set to 0
func (m *Message) EncodeSignal(name string, value float64) ([]byte, error) {
	if _, err := m.Signal(name); err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(m.Signals))
	for _, s := range m.Signals {
		values[s.Name] = 0
	}
	values[name] = value
	return m.Encode(values)
}

// Decode unpacks every signal of the message to its physical value
func (m *Message) Decode(payload []byte) (map[string]float64, error) {
	if len(payload) < m.Length {
		return nil, fmt.Errorf("%s: payload is %d bytes, expected %d", m.Name, len(payload), m.Length)
	}
	var data can.Data
	copy(data[:], payload)
	out := make(map[string]float64, len(m.Signals))
	for _, s := range m.Signals {
		out[s.Name] = s.Decode(data)
	}
	return out, nil
}

// Decode returns the physical value of the signal
func (s *Signal) Decode(data can.Data) float64 {
	var raw float64
	switch {
	case s.BigEndian && s.Signed:
		raw = float64(data.SignedBitsBigEndian(s.Start, s.Size))
	case s.BigEndian:
		raw = float64(data.UnsignedBitsBigEndian(s.Start, s.Size))
	case s.Signed:
		raw = float64(data.SignedBitsLittleEndian(s.Start, s.Size))
	default:
		raw = float64(data.UnsignedBitsLittleEndian(s.Start, s.Size))
	}
	return raw*s.factor() + s.Offset
}

func (s *Signal) factor() float64 {
	if s.Factor == 0 {
		return 1
	}
	return s.Factor
}

func (s *Signal) encode(data *can.Data, value float64) error {
	raw := math.Round((value - s.Offset) / s.factor())
	if s.Signed {
		lo, hi := -math.Exp2(float64(s.Size-1)), math.Exp2(float64(s.Size-1))-1
		if raw < lo || raw > hi {
			return fmt.Errorf("signal %s: value %v out of range", s.Name, value)
		}
		if s.BigEndian {
			data.SetSignedBitsBigEndian(s.Start, s.Size, int64(raw))
		} else {
			data.SetSignedBitsLittleEndian(s.Start, s.Size, int64(raw))
		}
		return nil
	}
	if raw < 0 || raw > math.Exp2(float64(s.Size))-1 {
		return fmt.Errorf("signal %s: value %v out of range", s.Name, value)
	}
	if s.BigEndian {
		data.SetUnsignedBitsBigEndian(s.Start, s.Size, uint64(raw))
	} else {
		data.SetUnsignedBitsLittleEndian(s.Start, s.Size, uint64(raw))
	}
	return nil
}
