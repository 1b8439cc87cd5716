package spmconfig

import (
	"fmt"
	"strings"

	"github.com/c360studio/partdb/manifest"
)

// Backend is the SPM backend the firmware is built with.
type Backend string

const (
	// BackendIPC schedules partitions as threads and passes messages.
	BackendIPC Backend = "IPC"
	// BackendSFN calls partition services as functions.
	BackendSFN Backend = "SFN"
)

// Isolation levels supported by the SPM.
const (
	MinIsolationLevel = 1
	MaxIsolationLevel = 3
)

// Configuration flag names, in emission order.
const (
	FlagBackendSFN         = "CONFIG_TFM_SPM_BACKEND_SFN"
	FlagBackendIPC         = "CONFIG_TFM_SPM_BACKEND_IPC"
	FlagSFNCall            = "CONFIG_TFM_PSA_API_SFN_CALL"
	FlagCrossCall          = "CONFIG_TFM_PSA_API_CROSS_CALL"
	FlagSupervisorCall     = "CONFIG_TFM_PSA_API_SUPERVISOR_CALL"
	FlagConnectionBasedAPI = "CONFIG_TFM_CONNECTION_BASED_SERVICE_API"
	FlagFLIHAPI            = "CONFIG_TFM_FLIH_API"
	FlagSLIHAPI            = "CONFIG_TFM_SLIH_API"
)

// FlagNames lists every configuration flag in emission order.
var FlagNames = []string{
	FlagBackendSFN,
	FlagBackendIPC,
	FlagSFNCall,
	FlagCrossCall,
	FlagSupervisorCall,
	FlagConnectionBasedAPI,
	FlagFLIHAPI,
	FlagSLIHAPI,
}

// ParseBackend parses a backend name, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToUpper(strings.TrimSpace(s))) {
	case BackendIPC:
		return BackendIPC, nil
	case BackendSFN:
		return BackendSFN, nil
	default:
		return "", fmt.Errorf("unknown SPM backend %q, must be %s or %s", s, BackendIPC, BackendSFN)
	}
}

// ValidateIsolationLevel checks that level is a supported isolation level.
func ValidateIsolationLevel(level int) error {
	if level < MinIsolationLevel || level > MaxIsolationLevel {
		return fmt.Errorf("isolation level %d out of range [%d, %d]", level, MinIsolationLevel, MaxIsolationLevel)
	}
	return nil
}

// Flag is a single configuration definition.
type Flag struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// FlagSet holds every configuration flag, in FlagNames order, with value
// "0" or "1".
type FlagSet []Flag

// NewFlagSet returns a FlagSet with every flag cleared.
func NewFlagSet() FlagSet {
	fs := make(FlagSet, len(FlagNames))
	for i, name := range FlagNames {
		fs[i] = Flag{Name: name, Value: "0"}
	}
	return fs
}

func (fs FlagSet) set(name string) {
	for i := range fs {
		if fs[i].Name == name {
			fs[i].Value = "1"
			return
		}
	}
}

// Enabled reports whether the named flag is set.
func (fs FlagSet) Enabled(name string) bool {
	for _, f := range fs {
		if f.Name == name {
			return f.Value == "1"
		}
	}
	return false
}

// Map returns the flags keyed by name.
func (fs FlagSet) Map() map[string]string {
	m := make(map[string]string, len(fs))
	for _, f := range fs {
		m[f.Name] = f.Value
	}
	return m
}

// Derive selects the configuration flags for a backend and isolation level
// given the partition statistics. It fails when a partition's execution
// model cannot run on the backend or when the backend does not support the
// isolation level.
func Derive(stats Statistics, backend Backend, isolationLevel int) (FlagSet, error) {
	if err := ValidateIsolationLevel(isolationLevel); err != nil {
		return nil, err
	}

	fs := NewFlagSet()
	switch backend {
	case BackendSFN:
		if n := stats.AllIPCPartitions(); n > 0 {
			return nil, manifest.Errorf(manifest.ErrBackendConflict, "",
				"SFN backend does not support IPC partitions (%d found)", n)
		}
		if isolationLevel > 1 {
			return nil, manifest.Errorf(manifest.ErrUnsupportedIsolation, "",
				"SFN backend does not support isolation level %d", isolationLevel)
		}
		fs.set(FlagBackendSFN)
		fs.set(FlagSFNCall)
	case BackendIPC:
		if n := stats.SFNPartitions; n > 0 {
			return nil, manifest.Errorf(manifest.ErrBackendConflict, "",
				"IPC backend does not support SFN partitions (%d found)", n)
		}
		fs.set(FlagBackendIPC)
		if isolationLevel > 1 {
			fs.set(FlagSupervisorCall)
		} else {
			fs.set(FlagCrossCall)
		}
	default:
		return nil, fmt.Errorf("unknown SPM backend %q", backend)
	}

	if stats.ConnectionBasedServices > 0 {
		fs.set(FlagConnectionBasedAPI)
	}
	if stats.FLIHs > 0 {
		fs.set(FlagFLIHAPI)
	} else if stats.SLIHs > 0 {
		fs.set(FlagSLIHAPI)
	}
	return fs, nil
}
