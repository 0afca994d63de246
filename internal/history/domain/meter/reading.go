package meter

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrEmptySerialNumber is returned when a reading has no serial number.
var ErrEmptySerialNumber = errors.New("meter: empty serial number")

// Runtime is the appliance runtime reported by a sensor.
type Runtime struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Reading is one live snapshot of a physical sensor.
// It is superseded by the next reading with the same serial number.
type Reading struct {
	SerialNumber   string    `json:"serialNumber"`
	EnergyTotalKWh float64   `json:"energyTotalKWh"`
	PowerW         float64   `json:"powerW"`
	VoltageV       float64   `json:"voltageV"`
	CurrentA       float64   `json:"currentA"`
	ApplianceOn    bool      `json:"applianceOn"`
	Runtime        Runtime   `json:"runtime"`
	ReceivedAt     time.Time `json:"receivedAt,omitempty"`
}

// Validate checks the minimal identity of a reading.
func (r Reading) Validate() error {
	if r.SerialNumber == "" {
		return ErrEmptySerialNumber
	}
	return nil
}

// DecodeReading parses a JSON reading. Numeric fields that are missing, null or
// not numbers decode to zero instead of failing the whole snapshot.
func DecodeReading(payload []byte) (Reading, error) {
	var raw struct {
		SerialNumber   string          `json:"serialNumber"`
		EnergyTotalKWh json.RawMessage `json:"energyTotalKWh"`
		PowerW         json.RawMessage `json:"powerW"`
		VoltageV       json.RawMessage `json:"voltageV"`
		CurrentA       json.RawMessage `json:"currentA"`
		ApplianceOn    bool            `json:"applianceOn"`
		Runtime        Runtime         `json:"runtime"`
		ReceivedAt     *time.Time      `json:"receivedAt"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Reading{}, err
	}
	r := Reading{
		SerialNumber:   raw.SerialNumber,
		EnergyTotalKWh: lenientFloat(raw.EnergyTotalKWh),
		PowerW:         lenientFloat(raw.PowerW),
		VoltageV:       lenientFloat(raw.VoltageV),
		CurrentA:       lenientFloat(raw.CurrentA),
		ApplianceOn:    raw.ApplianceOn,
		Runtime:        raw.Runtime,
	}
	if raw.ReceivedAt != nil {
		r.ReceivedAt = raw.ReceivedAt.UTC()
	}
	return r, r.Validate()
}

func lenientFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

// AggregateTotal sums cumulative energy across readings.
// Non-finite and negative values count as zero.
func AggregateTotal(readings []Reading) float64 {
	var total float64
	for _, r := range readings {
		total += sanitizeEnergy(r.EnergyTotalKWh)
	}
	return total
}

func sanitizeEnergy(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Board keeps the latest reading per serial number for every user.
type Board struct {
	mu    sync.RWMutex
	users map[string]map[string]Reading
}

// NewBoard constructs an empty board.
func NewBoard() *Board {
	return &Board{users: make(map[string]map[string]Reading)}
}

// Apply stores r as the current snapshot of its sensor for userID.
func (b *Board) Apply(userID string, r Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sensors := b.users[userID]
	if sensors == nil {
		sensors = make(map[string]Reading)
		b.users[userID] = sensors
	}
	sensors[r.SerialNumber] = r
	return nil
}

// Readings returns the user's current snapshots ordered by serial number.
func (b *Board) Readings(userID string) []Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sensors := b.users[userID]
	out := make([]Reading, 0, len(sensors))
	for _, r := range sensors {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

// Total returns the aggregated total of the user's current snapshots.
func (b *Board) Total(userID string) float64 {
	return AggregateTotal(b.Readings(userID))
}
