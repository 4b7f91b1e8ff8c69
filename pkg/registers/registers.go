// Package registers holds the static, compile-time register map for the
// inverter this gateway polls. The map is small (<=32 entries) and dense:
// Id is the stable external name used everywhere above the wire, Address is
// the Modbus holding-register address, Name is the short ASCII label used
// in configuration and on the wire.
package registers

import "fmt"

// Id is a dense integer identifying a register, stable across reboots and
// firmware versions.
type Id int

// Register describes one entry of the static register map.
type Register struct {
	Id      Id
	Address uint16
	Name    string
}

// MaxRegisters bounds the register map size per the data model.
const MaxRegisters = 32

// Export power percentage register name, the Modbus write target for the
// set_power_percentage and set_power command actions.
const ExportPowerPercentageName = "export_power_percentage"

// defaultMap is the EcoWatt inverter's register layout. Addresses follow
// the vendor's Modbus holding-register assignment for the AC/DC
// measurement block plus the one writable control register.
var defaultMap = []Register{
	{Id: 0, Address: 0x0000, Name: "Vac1"},
	{Id: 1, Address: 0x0001, Name: "Iac1"},
	{Id: 2, Address: 0x0002, Name: "Fac1"},
	{Id: 3, Address: 0x0003, Name: "Vpv1"},
	{Id: 4, Address: 0x0004, Name: "Vpv2"},
	{Id: 5, Address: 0x0005, Name: "Ipv1"},
	{Id: 6, Address: 0x0006, Name: "Ipv2"},
	{Id: 7, Address: 0x0007, Name: "Temperature"},
	{Id: 8, Address: 0x0008, Name: "Pac"},
	{Id: 9, Address: 0x0009, Name: "energy_today"},
	{Id: 10, Address: 0x000A, Name: "energy_total_low"},
	{Id: 11, Address: 0x000B, Name: "energy_total_high"},
	{Id: 12, Address: 0x0032, Name: ExportPowerPercentageName},
}

// Map is an ordered, addressable view of the static register table.
type Map struct {
	entries  []Register
	byName   map[string]Register
	byId     map[Id]Register
}

// Default returns the compiled-in register map for this inverter model.
func Default() *Map {
	return NewMap(defaultMap)
}

// NewMap builds a lookup-indexed Map from an ordered entry list. It panics
// if entries exceed MaxRegisters or contain duplicate ids/names/addresses,
// since the register map is compile-time static and such a collision is a
// programming error, not a runtime condition.
func NewMap(entries []Register) *Map {
	if len(entries) > MaxRegisters {
		panic(fmt.Sprintf("registers: map has %d entries, max is %d", len(entries), MaxRegisters))
	}
	m := &Map{
		entries: append([]Register(nil), entries...),
		byName:  make(map[string]Register, len(entries)),
		byId:    make(map[Id]Register, len(entries)),
	}
	seenAddr := make(map[uint16]bool, len(entries))
	for _, r := range entries {
		if _, dup := m.byName[r.Name]; dup {
			panic(fmt.Sprintf("registers: duplicate name %q", r.Name))
		}
		if _, dup := m.byId[r.Id]; dup {
			panic(fmt.Sprintf("registers: duplicate id %d", r.Id))
		}
		if seenAddr[r.Address] {
			panic(fmt.Sprintf("registers: duplicate address 0x%04X", r.Address))
		}
		seenAddr[r.Address] = true
		m.byName[r.Name] = r
		m.byId[r.Id] = r
	}
	return m
}

// All returns the ordered entry list.
func (m *Map) All() []Register {
	return append([]Register(nil), m.entries...)
}

// ByName resolves a register by its wire/config name.
func (m *Map) ByName(name string) (Register, bool) {
	r, ok := m.byName[name]
	return r, ok
}

// ByID resolves a register by its stable integer id.
func (m *Map) ByID(id Id) (Register, bool) {
	r, ok := m.byId[id]
	return r, ok
}

// Subset returns the ordered register set for the given names, validating
// that every name resolves. Order follows the names slice, not the map's
// native order, since callers (C6, C11) need a configurable acquisition
// order.
func (m *Map) Subset(names []string) ([]Register, error) {
	out := make([]Register, 0, len(names))
	for _, n := range names {
		r, ok := m.byName[n]
		if !ok {
			return nil, fmt.Errorf("registers: unknown register name %q", n)
		}
		out = append(out, r)
	}
	return out, nil
}

// ContiguousSpan returns the minimum start address and quantity covering a
// register set, per the acquisition pipeline's single-request rule
// (min..=max address of the selected subset).
func ContiguousSpan(set []Register) (start uint16, quantity uint16) {
	if len(set) == 0 {
		return 0, 0
	}
	min, max := set[0].Address, set[0].Address
	for _, r := range set[1:] {
		if r.Address < min {
			min = r.Address
		}
		if r.Address > max {
			max = r.Address
		}
	}
	return min, max - min + 1
}
