package commands

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/logger"
	"github.com/RPX2001/ecowatt-edge-gateway/internal/serialport"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/acquisition"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/cloudclient"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/command"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/config"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/coordinator"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/metrics"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/ota"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/security"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/transport"
)

// gateway bundles every wired handle a command needs, built once from a
// loaded Config. Callers that only need a slice of it (status, faults,
// config show) are free to ignore the rest.
type gateway struct {
	cfg         *config.Config
	st          *store.Store
	reg         *registers.Map
	faultLog    *fault.Log
	cloud       *cloudclient.Client
	commandDeps command.Deps
	coordinator *coordinator.Coordinator
	metrics     *metrics.Metrics
}

// openGateway loads configuration and wires every subsystem the way
// pkg/coordinator.Deps expects them, the CLI's equivalent of the
// teacher's runStart bootstrap sequence.
func openGateway(configPath string) (*gateway, error) {
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	faultLog, err := fault.New(st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open fault log: %w", err)
	}

	reg := registers.Default()

	hmacKey, err := readExactKey(cfg.Security.PSKHMACKeyFile, 32)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	cipherKey, err := readExactKey(cfg.Security.PSKCipherKeyFile, 16)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	var hmacArr [32]byte
	var cipherArr [16]byte
	copy(hmacArr[:], hmacKey)
	copy(cipherArr[:], cipherKey)
	sec := security.NewState(hmacArr, cipherArr)

	shim := transport.NewShim(func() (transport.Port, error) {
		return serialport.Open(cfg.Serial.Device, cfg.Serial.BaudRate)
	})
	acq := acquisition.New(shim, cfg.Serial.SlaveID, reg, faultLog)

	cloud := cloudclient.New(&http.Client{Timeout: 10 * time.Second}, cfg.Cloud.BaseURL, cfg.Cloud.DeviceID)

	manifestKey, err := readRSAPublicKey(cfg.OTA.ManifestPublicKeyFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	imageKey, err := readExactKey(cfg.OTA.ImageKeyFile, 16)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	var imageKeyArr [16]byte
	copy(imageKeyArr[:], imageKey)

	partitions := map[string]ota.Partition{
		"a": ota.NewFilePartition(filepath.Join(cfg.OTA.PartitionADir, "firmware.bin")),
		"b": ota.NewFilePartition(filepath.Join(cfg.OTA.PartitionBDir, "firmware.bin")),
	}
	engine, err := ota.New(st, faultLog, manifestKey, imageKeyArr, func(label string) ota.Partition {
		return partitions[label]
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open ota engine: %w", err)
	}

	m := metrics.New()

	cmdDeps := command.Deps{
		Shim:        shim,
		Slave:       cfg.Serial.SlaveID,
		Registers:   reg,
		FaultLog:    faultLog,
		Acquisition: acq,
	}

	co, err := coordinator.New(coordinator.Deps{
		Store:       st,
		Registers:   reg,
		FaultLog:    faultLog,
		Acquisition: acq,
		Cloud:       cloud,
		Security:    sec,
		CommandDeps: cmdDeps,
		OTA:         engine,
		Metrics:     m,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build coordinator: %w", err)
	}

	return &gateway{
		cfg:         cfg,
		st:          st,
		reg:         reg,
		faultLog:    faultLog,
		cloud:       cloud,
		commandDeps: cmdDeps,
		coordinator: co,
		metrics:     m,
	}, nil
}

func (g *gateway) Close() error {
	return g.st.Close()
}

func readExactKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, size, len(data))
	}
	return data, nil
}

func readRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest public key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("manifest public key %s: not PEM-encoded", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("manifest public key %s: %w", path, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("manifest public key %s: not an RSA key", path)
	}
	return rsaPub, nil
}
