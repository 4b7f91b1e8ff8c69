// Package ota implements C12: the firmware-update state machine —
// manifest verification, chunked resumable download, whole-image
// verification, dual-partition activation, and post-boot rollback.
//
// Engine deliberately knows nothing about HTTP or the §4.5 envelope,
// mirroring pkg/command and pkg/configsync: the coordinator (C13) owns
// polling the cloud client and unwrapping envelopes, and feeds Engine
// already-unwrapped bytes. That keeps this state machine testable with
// plain byte slices instead of an httptest server.
package ota

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

// ChunkPersistInterval is N from §4.7's "written to persistent storage
// on every N chunks" resume rule.
const ChunkPersistInterval = 16

const originComponent = "ota"

// Engine drives the state machine described at package level. The zero
// value is not usable; use New.
type Engine struct {
	st        *store.Store
	faultLog  *fault.Log
	publicKey *rsa.PublicKey
	imageKey  [16]byte
	partition func(label string) Partition

	session          Session
	chunksSinceSave int
}

// New constructs an Engine. partitionFor resolves a partition label
// ("a" or "b") to its backing Partition; imageKey is the symmetric key
// used to decrypt firmware chunks (see cipher.go).
func New(st *store.Store, faultLog *fault.Log, publicKey *rsa.PublicKey, imageKey [16]byte, partitionFor func(label string) Partition) (*Engine, error) {
	sess, err := loadSession(st)
	if err != nil {
		return nil, err
	}
	return &Engine{st: st, faultLog: faultLog, publicKey: publicKey, imageKey: imageKey, partition: partitionFor, session: sess}, nil
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.session.State }

// Session returns a copy of the current session, for CLI/status
// reporting.
func (e *Engine) Session() Session { return e.session }

// BeginCheck transitions IDLE -> CHECKING. It is a no-op (returns
// false) if a session is already in flight, so a check tick never
// clobbers an in-progress download.
func (e *Engine) BeginCheck() (bool, error) {
	if e.session.State != StateIdle {
		return false, nil
	}
	e.session.State = StateChecking
	return true, saveState(e.st, e.session.State)
}

// CompleteCheck resolves a CHECKING session. available=false means the
// cloud reported no update; manifestToken is the signed JWT from
// /firmware/{version}/manifest when available=true.
func (e *Engine) CompleteCheck(available bool, manifestToken string, currentVersion string, nowMs int64) error {
	if e.session.State != StateChecking {
		return gwerrors.New(gwerrors.PermanentConfig, originComponent, "complete_check", "not in CHECKING state")
	}
	if !available {
		e.session.State = StateIdle
		return saveState(e.st, e.session.State)
	}

	claims, err := ParseManifest(manifestToken, e.publicKey)
	if err != nil {
		return e.fail("complete_check", "manifest signature verification failed: "+err.Error(), nowMs)
	}
	if !versionNewer(claims.Version, currentVersion) {
		return e.fail("complete_check", fmt.Sprintf("manifest version %s is not newer than current %s", claims.Version, currentVersion), nowMs)
	}
	iv, err := claims.CipherIV()
	if err != nil {
		return e.fail("complete_check", err.Error(), nowMs)
	}
	sum, err := claims.ExpectedSHA256()
	if err != nil {
		return e.fail("complete_check", err.Error(), nowMs)
	}
	if claims.TotalChunks <= 0 {
		return e.fail("complete_check", fmt.Sprintf("manifest total_chunks %d is not positive", claims.TotalChunks), nowMs)
	}

	standby := "b"
	if e.session.ActivePartition == "b" {
		standby = "a"
	}
	e.session = Session{
		State:            StateManifestOK,
		SessionID:        uuid.NewString(),
		TargetVersion:    claims.Version,
		TotalChunks:      claims.TotalChunks,
		ChunkSize:        claims.ChunkSize,
		ReceivedMask:     make([]bool, claims.TotalChunks),
		CipherIV:         iv,
		ExpectedSHA256:   sum,
		ActivePartition:  e.session.ActivePartition,
		StandbyPartition: standby,
	}
	if e.session.ActivePartition == "" {
		e.session.ActivePartition = "a"
		e.session.StandbyPartition = "b"
	}
	if err := e.standbyPartition().Wipe(); err != nil && !os.IsNotExist(err) {
		// A fresh path with nothing to wipe yet is expected; only a
		// real I/O failure on an existing file is worth failing over.
		return e.fail("complete_check", "standby partition wipe failed: "+err.Error(), nowMs)
	}
	return saveSession(e.st, e.session)
}

// BeginDownload transitions MANIFEST_OK -> DOWNLOADING.
func (e *Engine) BeginDownload() error {
	if e.session.State != StateManifestOK {
		return gwerrors.New(gwerrors.PermanentConfig, originComponent, "begin_download", "not in MANIFEST_OK state")
	}
	e.session.State = StateDownloading
	e.chunksSinceSave = 0
	return saveSession(e.st, e.session)
}

// NextChunkIndex returns the lowest-indexed chunk not yet received, or
// ok=false once every chunk has arrived (by then ReceiveChunk has moved
// the session to VERIFYING, and the caller calls Verify).
func (e *Engine) NextChunkIndex() (index int, ok bool) {
	return e.session.firstMissingChunk()
}

// ReceiveChunk decrypts and writes chunk index's plaintext (ciphertext
// is what's left after the caller has already stripped the §4.5
// envelope) into the standby partition, and marks it received. Chunks
// may arrive out of order.
func (e *Engine) ReceiveChunk(index int, ciphertext []byte, nowMs int64) error {
	if e.session.State != StateDownloading {
		return gwerrors.New(gwerrors.PermanentConfig, originComponent, "receive_chunk", "not in DOWNLOADING state")
	}
	if index < 0 || index >= e.session.TotalChunks {
		return gwerrors.New(gwerrors.PermanentConfig, originComponent, "receive_chunk", fmt.Sprintf("chunk index %d out of range", index))
	}

	offset := index * e.session.ChunkSize
	plaintext, err := decryptChunk(e.imageKey, e.session.CipherIV, offset, ciphertext)
	if err != nil {
		return e.fail("receive_chunk", "chunk decryption failed: "+err.Error(), nowMs)
	}
	if err := e.standbyPartition().WriteAt(int64(offset), plaintext); err != nil {
		return gwerrors.Wrap(gwerrors.TransientTransport, originComponent, "receive_chunk", err)
	}

	e.session.ReceivedMask[index] = true
	e.chunksSinceSave++
	if e.chunksSinceSave >= ChunkPersistInterval || e.session.allReceived() {
		e.chunksSinceSave = 0
		if err := saveSession(e.st, e.session); err != nil {
			return err
		}
	}

	if e.session.allReceived() {
		e.session.State = StateVerifying
		return saveSession(e.st, e.session)
	}
	return nil
}

// Verify recomputes the whole-image SHA-256 and checks it against the
// manifest's expected hash. A mismatch wipes the standby partition and
// fails the session; success advances to ACTIVATING.
func (e *Engine) Verify(nowMs int64) error {
	if e.session.State != StateVerifying {
		return gwerrors.New(gwerrors.PermanentConfig, originComponent, "verify", "not in VERIFYING state")
	}
	image, err := e.standbyPartition().ReadAll()
	if err != nil {
		return gwerrors.Wrap(gwerrors.TransientTransport, originComponent, "verify", err)
	}
	got := sha256.Sum256(image)
	if got != e.session.ExpectedSHA256 {
		_ = e.standbyPartition().Wipe()
		return e.fail("verify", "whole-image SHA-256 mismatch", nowMs)
	}
	e.session.State = StateActivating
	return saveSession(e.st, e.session)
}

// Activate swaps the boot partition pointer to the freshly verified
// image and advances to VALIDATING. On a real device this is followed
// by a reboot into the new image; here VALIDATING is resolved by a
// later PostBootSelfCheck call, matching the on-boot handler in §4.7.
func (e *Engine) Activate() error {
	if e.session.State != StateActivating {
		return gwerrors.New(gwerrors.PermanentConfig, originComponent, "activate", "not in ACTIVATING state")
	}
	e.session.ActivePartition, e.session.StandbyPartition = e.session.StandbyPartition, e.session.ActivePartition
	e.session.State = StateValidating
	return saveSession(e.st, e.session)
}

// PostBootSelfCheck is the on-boot handler invoked once at startup when
// the persisted state is VALIDATING: within the 60s window described by
// §4.7, it must associate with WiFi and complete one upload tick. Both
// callbacks are given ctx so the caller can enforce that deadline.
func (e *Engine) PostBootSelfCheck(ctx context.Context, associateWiFi func(context.Context) error, uploadTick func(context.Context) error, nowMs int64) error {
	if e.session.State != StateValidating {
		return gwerrors.New(gwerrors.PermanentConfig, originComponent, "post_boot_self_check", "not in VALIDATING state")
	}

	if err := associateWiFi(ctx); err != nil {
		return e.rollback("WiFi association failed: "+err.Error(), nowMs)
	}
	if err := uploadTick(ctx); err != nil {
		return e.rollback("post-update upload tick failed: "+err.Error(), nowMs)
	}

	version := e.session.TargetVersion
	e.session = Session{State: StateIdle, ActivePartition: e.session.ActivePartition, StandbyPartition: e.session.StandbyPartition}
	if err := setCurrentVersion(e.st, version); err != nil {
		return err
	}
	return saveSession(e.st, e.session)
}

// rollback records a recovered OTA_FAULT (the bootloader having already
// fallen back to the prior image) and resets the session to IDLE
// without touching current_firmware_version.
func (e *Engine) rollback(reason string, nowMs int64) error {
	e.session.ActivePartition, e.session.StandbyPartition = e.session.StandbyPartition, e.session.ActivePartition
	e.session = Session{State: StateIdle, ActivePartition: e.session.ActivePartition, StandbyPartition: e.session.StandbyPartition}
	if err := saveSession(e.st, e.session); err != nil {
		return err
	}
	return e.faultLog.Record(fault.Event{Kind: fault.OTAFault, OriginComponent: originComponent, Description: reason, Recovered: true, TimestampMs: nowMs})
}

// fail logs a non-recovered OTA_FAULT and resets to IDLE, per §4.7's
// "FAILED -> IDLE (after event logged)" transition.
func (e *Engine) fail(op, reason string, nowMs int64) error {
	e.session = Session{State: StateIdle, ActivePartition: e.session.ActivePartition, StandbyPartition: e.session.StandbyPartition}
	if err := saveSession(e.st, e.session); err != nil {
		return err
	}
	_ = e.faultLog.Record(fault.ClassifyOTAFault(originComponent, reason, nowMs))
	return gwerrors.New(gwerrors.PermanentConfig, originComponent, op, reason)
}

func (e *Engine) standbyPartition() Partition {
	label := e.session.StandbyPartition
	if label == "" {
		label = "b"
	}
	return e.partition(label)
}

// versionNewer reports whether candidate is strictly newer than
// current under dotted-numeric version comparison, falling back to a
// plain string comparison for anything else.
func versionNewer(candidate, current string) bool {
	cv, cok := parseVersion(candidate)
	rv, rok := parseVersion(current)
	if cok && rok {
		for i := 0; i < len(cv) || i < len(rv); i++ {
			var a, b int
			if i < len(cv) {
				a = cv[i]
			}
			if i < len(rv) {
				b = rv[i]
			}
			if a != b {
				return a > b
			}
		}
		return false
	}
	return candidate > current
}

func parseVersion(v string) ([]int, bool) {
	var parts []int
	cur := 0
	seenDigit := false
	for _, r := range v + "." {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			seenDigit = true
			continue
		}
		if r == '.' {
			if !seenDigit {
				return nil, false
			}
			parts = append(parts, cur)
			cur = 0
			seenDigit = false
			continue
		}
		return nil, false
	}
	return parts, len(parts) > 0
}
