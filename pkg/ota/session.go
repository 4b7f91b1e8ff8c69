package ota

import (
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

// State is §4.7's closed set of firmware-update states.
type State string

const (
	StateIdle        State = "IDLE"
	StateChecking    State = "CHECKING"
	StateManifestOK  State = "MANIFEST_OK"
	StateDownloading State = "DOWNLOADING"
	StateVerifying   State = "VERIFYING"
	StateActivating  State = "ACTIVATING"
	StateValidating  State = "VALIDATING"
	StateDone        State = "DONE"
	StateRollingBack State = "ROLLING_BACK"
	StateFailed      State = "FAILED"
)

// manifestRecord is the persisted subset of ManifestClaims needed to
// resume a download after a reboot, stored alongside received_mask.
type manifestRecord struct {
	TotalChunks    int      `json:"total_chunks"`
	ChunkSize      int      `json:"chunk_size"`
	CipherIV       [16]byte `json:"cipher_iv"`
	ExpectedSHA256 [32]byte `json:"expected_sha256"`
}

// Session is the in-flight (or idle) OTA session state, fully
// reconstructable from persisted store keys.
type Session struct {
	State            State
	SessionID        string
	TargetVersion    string
	TotalChunks      int
	ChunkSize        int
	ReceivedMask     []bool
	CipherIV         [16]byte
	ExpectedSHA256   [32]byte
	ActivePartition  string
	StandbyPartition string
}

func (s *Session) firstMissingChunk() (int, bool) {
	for i, got := range s.ReceivedMask {
		if !got {
			return i, true
		}
	}
	return 0, false
}

func (s *Session) allReceived() bool {
	_, missing := s.firstMissingChunk()
	return !missing
}

func loadSession(st *store.Store) (Session, error) {
	state, err := store.GetOrDefault(st, store.Namespace, store.KeyOTAState, string(StateIdle))
	if err != nil {
		return Session{}, err
	}
	sessionID, err := store.GetOrDefault(st, store.Namespace, store.KeyOTASessionID, "")
	if err != nil {
		return Session{}, err
	}
	version, err := store.GetOrDefault(st, store.Namespace, store.KeyOTAVersion, "")
	if err != nil {
		return Session{}, err
	}
	mask, err := store.GetOrDefault(st, store.Namespace, store.KeyOTAReceivedMask, []bool(nil))
	if err != nil {
		return Session{}, err
	}
	active, err := store.GetOrDefault(st, store.Namespace, store.KeyOTAActivePartition, "a")
	if err != nil {
		return Session{}, err
	}
	manifest, ok, err := store.Get[manifestRecord](st, store.Namespace, store.KeyOTAManifest)
	if err != nil {
		return Session{}, err
	}

	standby := "b"
	if active == "b" {
		standby = "a"
	}

	sess := Session{
		State:            State(state),
		SessionID:        sessionID,
		TargetVersion:    version,
		ReceivedMask:     mask,
		ActivePartition:  active,
		StandbyPartition: standby,
	}
	if ok {
		sess.TotalChunks = manifest.TotalChunks
		sess.ChunkSize = manifest.ChunkSize
		sess.CipherIV = manifest.CipherIV
		sess.ExpectedSHA256 = manifest.ExpectedSHA256
	}
	return sess, nil
}

// saveState persists just the state label, the cheapest possible write
// for a transition that doesn't touch the download progress.
func saveState(st *store.Store, s State) error {
	return store.Set(st, store.Namespace, store.KeyOTAState, string(s))
}

// saveSession persists the full resumable session: state, session id,
// target version, active partition, received mask and manifest record.
// Called on every state transition except IDLE -> CHECKING and a
// no-update CHECKING -> IDLE (those persist only the state, via
// saveState), and every ChunkPersistInterval chunks during DOWNLOADING,
// per §4.7's resume rule.
func saveSession(st *store.Store, s Session) error {
	if err := saveState(st, s.State); err != nil {
		return err
	}
	if err := store.Set(st, store.Namespace, store.KeyOTASessionID, s.SessionID); err != nil {
		return err
	}
	if err := store.Set(st, store.Namespace, store.KeyOTAVersion, s.TargetVersion); err != nil {
		return err
	}
	if err := store.Set(st, store.Namespace, store.KeyOTAActivePartition, s.ActivePartition); err != nil {
		return err
	}
	if err := store.Set(st, store.Namespace, store.KeyOTAReceivedMask, s.ReceivedMask); err != nil {
		return err
	}
	return store.Set(st, store.Namespace, store.KeyOTAManifest, manifestRecord{
		TotalChunks:    s.TotalChunks,
		ChunkSize:      s.ChunkSize,
		CipherIV:       s.CipherIV,
		ExpectedSHA256: s.ExpectedSHA256,
	})
}

// CurrentVersion returns the persisted version invariant 5 (§8) refers
// to: the version the device most recently booted successfully.
func CurrentVersion(st *store.Store) (string, error) {
	return store.GetOrDefault(st, store.Namespace, store.KeyCurrentFirmwareVersion, "unknown")
}

func setCurrentVersion(st *store.Store, version string) error {
	return store.Set(st, store.Namespace, store.KeyCurrentFirmwareVersion, version)
}
