// Package configsync implements C11: pulling a pending ConfigDocument
// from the cloud, validating it as an all-or-nothing unit, applying it
// to the persistent store, and acknowledging what actually took effect.
package configsync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

// Document is the recognized, exhaustive key set from §4.8.
type Document struct {
	SamplingIntervalSec      *int      `json:"sampling_interval,omitempty"`
	UploadIntervalSec        *int      `json:"upload_interval,omitempty"`
	ConfigPollIntervalSec    *int      `json:"config_poll_interval,omitempty"`
	CommandPollIntervalSec   *int      `json:"command_poll_interval,omitempty"`
	FirmwareCheckIntervalSec *int      `json:"firmware_check_interval,omitempty"`
	EnergyPollIntervalSec    *int      `json:"energy_poll_interval,omitempty"`
	Registers                []string `json:"registers,omitempty"`
	PowerManagementEnabled    *bool    `json:"power_management_enabled,omitempty"`
	PowerManagementTechniques *uint8   `json:"power_management_techniques,omitempty"`
}

// PeripheralGatingBit is the only honoured bit of power_management.techniques.
const PeripheralGatingBit uint8 = 0x08

// Applied is a pointwise snapshot of the state that actually took
// effect, reported back in the acknowledgement per §4.8's atomicity
// and idempotence rules.
type Applied struct {
	PollPeriodUs     int64    `json:"poll_period_us"`
	UploadPeriodUs   int64    `json:"upload_period_us"`
	ConfigPeriodUs   int64    `json:"config_period_us"`
	CommandPeriodUs  int64    `json:"command_period_us"`
	FirmwarePeriodUs int64    `json:"firmware_period_us"`
	EnergyPeriodUs   int64    `json:"energy_period_us"`
	RegisterNames    []string `json:"registers"`
	PowerEnabled     bool     `json:"power_enabled"`
	PowerTechniques  uint8    `json:"power_techniques"`
}

// Acknowledgement is what gets POSTed to /config/{device_id}/acknowledge.
type Acknowledgement struct {
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Applied Applied `json:"applied,omitempty"`
}

func validationError(field, reason string) error {
	return fmt.Errorf("configsync: %s: %s", field, reason)
}

// Validate checks every recognized key's type/range before anything is
// applied. It returns the first violation found; §4.8 requires the
// whole document be rejected on any single invalid key.
func Validate(doc Document, reg *registers.Map) error {
	if err := validateRange(doc.SamplingIntervalSec, "sampling_interval", 1, 3600); err != nil {
		return err
	}
	if err := validateRange(doc.UploadIntervalSec, "upload_interval", 5, 3600); err != nil {
		return err
	}
	if err := validateRange(doc.ConfigPollIntervalSec, "config_poll_interval", 5, 3600); err != nil {
		return err
	}
	if err := validateRange(doc.CommandPollIntervalSec, "command_poll_interval", 5, 3600); err != nil {
		return err
	}
	if err := validateRange(doc.FirmwareCheckIntervalSec, "firmware_check_interval", 30, 86400); err != nil {
		return err
	}
	if err := validateRange(doc.EnergyPollIntervalSec, "energy_poll_interval", 1, 3600); err != nil {
		return err
	}
	if doc.Registers != nil {
		if len(doc.Registers) == 0 {
			return validationError("registers", "must be non-empty when present")
		}
		if len(doc.Registers) > 10 {
			return validationError("registers", "must contain at most 10 entries")
		}
		if _, err := reg.Subset(doc.Registers); err != nil {
			return validationError("registers", err.Error())
		}
	}
	return nil
}

func validateRange(v *int, field string, min, max int) error {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return validationError(field, fmt.Sprintf("must be in [%d, %d], got %d", min, max, *v))
	}
	return nil
}

// Apply validates doc, then applies every key to st as a single
// all-or-nothing unit. Partial application never happens: validation
// runs completely before the first write.
func Apply(st *store.Store, reg *registers.Map, doc Document) (Applied, error) {
	if err := Validate(doc, reg); err != nil {
		return Applied{}, err
	}

	if doc.SamplingIntervalSec != nil {
		if err := store.Set(st, store.Namespace, store.KeyPollPeriodUs, secToUs(*doc.SamplingIntervalSec)); err != nil {
			return Applied{}, err
		}
	}
	if doc.UploadIntervalSec != nil {
		if err := store.Set(st, store.Namespace, store.KeyUploadPeriodUs, secToUs(*doc.UploadIntervalSec)); err != nil {
			return Applied{}, err
		}
	}
	if doc.ConfigPollIntervalSec != nil {
		if err := store.Set(st, store.Namespace, store.KeyConfigPeriodUs, secToUs(*doc.ConfigPollIntervalSec)); err != nil {
			return Applied{}, err
		}
	}
	if doc.CommandPollIntervalSec != nil {
		if err := store.Set(st, store.Namespace, store.KeyCommandPeriodUs, secToUs(*doc.CommandPollIntervalSec)); err != nil {
			return Applied{}, err
		}
	}
	if doc.FirmwareCheckIntervalSec != nil {
		if err := store.Set(st, store.Namespace, store.KeyFirmwarePeriodUs, secToUs(*doc.FirmwareCheckIntervalSec)); err != nil {
			return Applied{}, err
		}
	}
	if doc.EnergyPollIntervalSec != nil {
		if err := store.Set(st, store.Namespace, store.KeyEnergyPeriodUs, secToUs(*doc.EnergyPollIntervalSec)); err != nil {
			return Applied{}, err
		}
	}
	if doc.Registers != nil {
		mask, err := registerMask(reg, doc.Registers)
		if err != nil {
			return Applied{}, err
		}
		if err := store.Set(st, store.Namespace, store.KeyRegisterMask, mask); err != nil {
			return Applied{}, err
		}
		if err := store.Set(st, store.Namespace, store.KeyRegisterCount, uint8(len(doc.Registers))); err != nil {
			return Applied{}, err
		}
	}
	if doc.PowerManagementEnabled != nil {
		if err := store.Set(st, store.Namespace, store.KeyPowerEnabled, *doc.PowerManagementEnabled); err != nil {
			return Applied{}, err
		}
	}
	if doc.PowerManagementTechniques != nil {
		if err := store.Set(st, store.Namespace, store.KeyPowerTechniques, *doc.PowerManagementTechniques); err != nil {
			return Applied{}, err
		}
	}

	return snapshot(st, reg)
}

// Hash computes a stable fingerprint of doc for the §6.3
// last_config_hash key, used to detect a re-delivered, already-applied
// document (§4.8's idempotence rule).
func Hash(doc Document) ([32]byte, error) {
	canon, err := json.Marshal(doc)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

// LastHash returns the persisted hash of the most recently applied
// document, if any.
func LastHash(st *store.Store) ([32]byte, bool, error) {
	return store.Get[[32]byte](st, store.Namespace, store.KeyLastConfigHash)
}

// StoreHash persists hash as the most recently applied document's
// fingerprint.
func StoreHash(st *store.Store, hash [32]byte) error {
	return store.Set(st, store.Namespace, store.KeyLastConfigHash, hash)
}

func secToUs(sec int) int64 { return int64(sec) * 1_000_000 }

func registerMask(reg *registers.Map, names []string) (uint32, error) {
	set, err := reg.Subset(names)
	if err != nil {
		return 0, err
	}
	var mask uint32
	for _, r := range set {
		mask |= 1 << uint(r.Id)
	}
	return mask, nil
}

func registerNamesFromMask(reg *registers.Map, mask uint32) []string {
	var names []string
	for _, r := range reg.All() {
		if mask&(1<<uint(r.Id)) != 0 {
			names = append(names, r.Name)
		}
	}
	return names
}

// SelectedRegisters resolves the persisted register_mask into the
// register set C6 should acquire. An unset mask (fresh device, never
// config-synced) resolves to an empty set: acquisition is a no-op
// until the first config-sync tick tells the device what to read,
// rather than guessing a default span that could include a
// write-only control register.
func SelectedRegisters(st *store.Store, reg *registers.Map) ([]registers.Register, error) {
	mask, err := store.GetOrDefault(st, store.Namespace, store.KeyRegisterMask, uint32(0))
	if err != nil {
		return nil, err
	}
	if mask == 0 {
		return nil, nil
	}
	return reg.Subset(registerNamesFromMask(reg, mask))
}

// snapshot reads back the on-device state, pointwise, for the
// acknowledgement body.
func snapshot(st *store.Store, reg *registers.Map) (Applied, error) {
	poll, err := store.GetOrDefault(st, store.Namespace, store.KeyPollPeriodUs, int64(2_000_000))
	if err != nil {
		return Applied{}, err
	}
	upload, err := store.GetOrDefault(st, store.Namespace, store.KeyUploadPeriodUs, int64(15_000_000))
	if err != nil {
		return Applied{}, err
	}
	configPeriod, err := store.GetOrDefault(st, store.Namespace, store.KeyConfigPeriodUs, int64(5_000_000))
	if err != nil {
		return Applied{}, err
	}
	commandPeriod, err := store.GetOrDefault(st, store.Namespace, store.KeyCommandPeriodUs, int64(10_000_000))
	if err != nil {
		return Applied{}, err
	}
	firmwarePeriod, err := store.GetOrDefault(st, store.Namespace, store.KeyFirmwarePeriodUs, int64(60_000_000))
	if err != nil {
		return Applied{}, err
	}
	energyPeriod, err := store.GetOrDefault(st, store.Namespace, store.KeyEnergyPeriodUs, int64(0))
	if err != nil {
		return Applied{}, err
	}
	mask, err := store.GetOrDefault(st, store.Namespace, store.KeyRegisterMask, uint32(0))
	if err != nil {
		return Applied{}, err
	}
	powerEnabled, err := store.GetOrDefault(st, store.Namespace, store.KeyPowerEnabled, false)
	if err != nil {
		return Applied{}, err
	}
	powerTechniques, err := store.GetOrDefault(st, store.Namespace, store.KeyPowerTechniques, uint8(0))
	if err != nil {
		return Applied{}, err
	}

	return Applied{
		PollPeriodUs:     poll,
		UploadPeriodUs:   upload,
		ConfigPeriodUs:   configPeriod,
		CommandPeriodUs:  commandPeriod,
		FirmwarePeriodUs: firmwarePeriod,
		EnergyPeriodUs:   energyPeriod,
		RegisterNames:    registerNamesFromMask(reg, mask),
		PowerEnabled:     powerEnabled,
		PowerTechniques:  powerTechniques,
	}, nil
}
