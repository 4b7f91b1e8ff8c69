// Package command implements C10: pulling a pending command from the
// cloud, dispatching it to acquisition, and reporting the result. The
// action set is closed per §4.6/§9 — a tagged sum, not open-ended
// polymorphism.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/acquisition"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/modbus"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/transport"
)

// Status is the closed set of command lifecycle states.
type Status string

const (
	Pending   Status = "PENDING"
	Running   Status = "RUNNING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
)

// Recognized actions, per §4.6's closed table plus §9's set_power
// supplemental action.
const (
	ActionSetPowerPercentage = "set_power_percentage"
	ActionSetPower           = "set_power"
	ActionWriteRegister      = "write_register"
	ActionReadFaultLog       = "read_fault_log"
	ActionResetFaultStats    = "reset_fault_stats"
	ActionGetPeripheralStats = "get_peripheral_stats"
	ActionReboot             = "reboot"
)

// Command is one CommandRecord as pulled from the cloud.
type Command struct {
	ID             string                 `json:"id"`
	Action         string                 `json:"action"`
	Parameters     map[string]any         `json:"parameters"`
	Status         Status                 `json:"status"`
	Result         string                 `json:"result,omitempty"`
	SubmittedMs    int64                  `json:"submitted_ms"`
	AcknowledgedMs int64                  `json:"acknowledged_ms"`
}

// Result is the outcome of executing a Command.
type Result struct {
	Command         Command
	RebootRequested bool
}

// Deps bundles the subsystem handles a command may need to touch.
type Deps struct {
	Shim        *transport.Shim
	Slave       byte
	Registers   *registers.Map
	FaultLog    *fault.Log
	Acquisition *acquisition.Pipeline
}

const originComponent = "command"

// Execute dispatches cmd to its handler and returns the completed
// Command. It never panics on an unrecognized action: that fails the
// command with a specific reason, per §4.6's validation rule.
func Execute(ctx context.Context, cmd Command, deps Deps, nowMs int64) Result {
	cmd.AcknowledgedMs = nowMs
	switch cmd.Action {
	case ActionSetPowerPercentage:
		return Result{Command: executeSetPowerPercentage(ctx, cmd, deps, nowMs)}
	case ActionSetPower:
		return Result{Command: executeSetPower(ctx, cmd, deps, nowMs)}
	case ActionWriteRegister:
		return Result{Command: executeWriteRegister(ctx, cmd, deps, nowMs)}
	case ActionReadFaultLog:
		return Result{Command: executeReadFaultLog(cmd, deps)}
	case ActionResetFaultStats:
		return Result{Command: executeResetFaultStats(cmd, deps)}
	case ActionGetPeripheralStats:
		return Result{Command: executeGetPeripheralStats(cmd, deps)}
	case ActionReboot:
		return Result{Command: withStatus(cmd, Completed, "rebooting"), RebootRequested: true}
	default:
		return Result{Command: withStatus(cmd, Failed, fmt.Sprintf("unrecognized action %q", cmd.Action))}
	}
}

func withStatus(cmd Command, status Status, result string) Command {
	cmd.Status = status
	cmd.Result = result
	return cmd
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// clampPercentage clamps p into [0,100], returning the clamped value
// and whether clamping occurred.
func clampPercentage(p float64) (uint8, bool) {
	clamped := p
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 100 {
		clamped = 100
	}
	return uint8(clamped), clamped != p
}

func writePowerPercentage(ctx context.Context, cmd Command, deps Deps, percentage uint8, warn string, nowMs int64) Command {
	reg, ok := deps.Registers.ByName(registers.ExportPowerPercentageName)
	if !ok {
		return withStatus(cmd, Failed, "export power percentage register not present in register map")
	}

	req := modbus.BuildWriteSingleRegister(deps.Slave, reg.Address, uint16(percentage))
	resp, err := deps.Shim.Exchange(ctx, req)
	if err == nil {
		_, _, err = modbus.ParseWriteSingleRegisterResponse(resp)
	}
	if err != nil {
		recordCommandFault(deps, err, nowMs)
		return withStatus(cmd, Failed, "modbus write failed: "+err.Error())
	}

	if warn != "" {
		return withStatus(cmd, Completed, warn)
	}
	return withStatus(cmd, Completed, "")
}

func executeSetPowerPercentage(ctx context.Context, cmd Command, deps Deps, nowMs int64) Command {
	raw, ok := paramFloat(cmd.Parameters, "percentage")
	if !ok {
		return withStatus(cmd, Failed, "missing required parameter: percentage")
	}
	clamped, didClamp := clampPercentage(raw)
	warn := ""
	if didClamp {
		warn = fmt.Sprintf("clamped from %v to %d", raw, clamped)
	}
	return writePowerPercentage(ctx, cmd, deps, clamped, warn, nowMs)
}

// executeSetPower is the §9 supplemental legacy action: it requires an
// explicit capacity_watts parameter for its watts->percentage
// conversion and refuses when absent, rather than assuming a
// hard-coded capacity.
func executeSetPower(ctx context.Context, cmd Command, deps Deps, nowMs int64) Command {
	watts, ok := paramFloat(cmd.Parameters, "watts")
	if !ok {
		return withStatus(cmd, Failed, "missing required parameter: watts")
	}
	capacityWatts, ok := paramFloat(cmd.Parameters, "capacity_watts")
	if !ok || capacityWatts <= 0 {
		return withStatus(cmd, Failed, "set_power requires an explicit capacity_watts parameter")
	}

	percentageFloat := watts / capacityWatts * 100
	clamped, didClamp := clampPercentage(percentageFloat)
	warn := ""
	if didClamp {
		warn = fmt.Sprintf("clamped from %.1f to %d", percentageFloat, clamped)
	}
	return writePowerPercentage(ctx, cmd, deps, clamped, warn, nowMs)
}

func executeWriteRegister(ctx context.Context, cmd Command, deps Deps, nowMs int64) Command {
	name, ok := paramString(cmd.Parameters, "name")
	if !ok {
		return withStatus(cmd, Failed, "missing required parameter: name")
	}
	value, ok := paramFloat(cmd.Parameters, "value")
	if !ok {
		return withStatus(cmd, Failed, "missing required parameter: value")
	}

	reg, ok := deps.Registers.ByName(name)
	if !ok {
		return withStatus(cmd, Failed, fmt.Sprintf("unknown register_name %q", name))
	}

	req := modbus.BuildWriteSingleRegister(deps.Slave, reg.Address, uint16(value))
	resp, err := deps.Shim.Exchange(ctx, req)
	if err == nil {
		_, _, err = modbus.ParseWriteSingleRegisterResponse(resp)
	}
	if err != nil {
		recordCommandFault(deps, err, nowMs)
		return withStatus(cmd, Failed, "modbus write failed: "+err.Error())
	}
	return withStatus(cmd, Completed, "")
}

func executeReadFaultLog(cmd Command, deps Deps) Command {
	events := deps.FaultLog.Events()
	return withStatus(cmd, Completed, fmt.Sprintf("%d events", len(events)))
}

func executeResetFaultStats(cmd Command, deps Deps) Command {
	if err := deps.FaultLog.Reset(); err != nil {
		return withStatus(cmd, Failed, "reset failed: "+err.Error())
	}
	return withStatus(cmd, Completed, "")
}

func executeGetPeripheralStats(cmd Command, deps Deps) Command {
	stats := deps.Acquisition.Stats()
	return withStatus(cmd, Completed, fmt.Sprintf("ticks_total=%d ticks_succeeded=%d ticks_failed=%d", stats.TicksTotal, stats.TicksSucceeded, stats.TicksFailed))
}

func recordCommandFault(deps Deps, err error, nowMs int64) {
	var excErr *modbus.ExceptionError
	if errors.As(err, &excErr) {
		_ = deps.FaultLog.Record(fault.ClassifyModbusException(originComponent, err.Error(), byte(excErr.Code), 0, nowMs))
		return
	}
	_ = deps.FaultLog.Record(fault.ClassifyUnknown(originComponent, err.Error(), nowMs))
}
