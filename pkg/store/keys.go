package store

// Namespace is the single persistent-state namespace (§6.3).
const Namespace = "gateway"

// Key names from §6.3's persistent state layout. Consuming packages (C1,
// C5, C9, C12) use these with Get/Set/GetOrDefault rather than inventing
// their own key strings, so the full state layout is visible from one
// place.
const (
	KeyPollPeriodUs     = "poll_period_us"
	KeyUploadPeriodUs   = "upload_period_us"
	KeyConfigPeriodUs   = "config_period_us"
	KeyCommandPeriodUs  = "command_period_us"
	KeyFirmwarePeriodUs = "firmware_period_us"
	KeyEnergyPeriodUs   = "energy_period_us"

	KeyRegisterMask  = "register_mask"
	KeyRegisterCount = "register_count"

	KeyPowerEnabled    = "power_enabled"
	KeyPowerTechniques = "power_techniques"

	KeySecurityNextNonce = "security.next_nonce"

	KeyFaultLogRing = "fault_log.ring"

	KeyOTAVersion         = "ota.version"
	KeyOTAReceivedMask    = "ota.received_mask"
	KeyOTAState           = "ota.state"
	KeyOTASessionID       = "ota.session_id"
	KeyOTAActivePartition = "ota.active_partition"
	// KeyOTAManifest carries the fields of the in-flight manifest
	// (total_chunks, chunk_size, cipher_iv, expected sha256) alongside
	// received_mask so a reboot mid-download has everything it needs to
	// resume without re-fetching the manifest.
	KeyOTAManifest = "ota.manifest"

	KeyLastConfigHash = "last_config_hash"

	// KeyCurrentFirmwareVersion is the version invariant 5 (§8) refers
	// to: it only changes on a DONE or ROLLING_BACK transition.
	KeyCurrentFirmwareVersion = "current_firmware_version"

	// KeySecurityLastAcceptedNonce is the inbound counterpart of
	// security.next_nonce: the highest nonce accepted from the cloud,
	// used by the coordinator's security.Unwrap calls across restarts.
	KeySecurityLastAcceptedNonce = "security.last_accepted_nonce"

	// KeyStartedAtMs is the wall-clock time (ms since epoch) the
	// coordinator's dispatch loop was started, used by the status
	// command to report uptime across separate CLI invocations.
	KeyStartedAtMs = "started_at_ms"
)
