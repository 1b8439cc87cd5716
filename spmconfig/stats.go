// Package spmconfig derives the SPM build configuration from the loaded
// partitions: which backend is built, which PSA API call path is used and
// which optional APIs are compiled in.
package spmconfig

import (
	"github.com/c360studio/partdb/manifest"
)

// Statistics are counts over all loaded partitions that drive the
// configuration.
type Statistics struct {
	// IPCPartitions and SFNPartitions count partitions outside the
	// platform-reserved PID range.
	IPCPartitions int `yaml:"ipc_partition_num" json:"ipc_partition_num"`
	SFNPartitions int `yaml:"sfn_partition_num" json:"sfn_partition_num"`
	// ReservedIPCPartitions and ReservedSFNPartitions count the platform
	// partitions.
	ReservedIPCPartitions int `yaml:"reserved_ipc_partition_num" json:"reserved_ipc_partition_num"`
	ReservedSFNPartitions int `yaml:"reserved_sfn_partition_num" json:"reserved_sfn_partition_num"`

	ConnectionBasedServices int `yaml:"connection_based_srv_num" json:"connection_based_srv_num"`
	StatelessServices       int `yaml:"stateless_srv_num" json:"stateless_srv_num"`
	FLIHs                   int `yaml:"flih_num" json:"flih_num"`
	SLIHs                   int `yaml:"slih_num" json:"slih_num"`
}

// Aggregate tallies statistics over partitions.
func Aggregate(partitions []*manifest.Partition) Statistics {
	var s Statistics
	for _, p := range partitions {
		model := p.EffectiveModel()
		switch {
		case p.Reserved() && model == manifest.ModelSFN:
			s.ReservedSFNPartitions++
		case p.Reserved():
			s.ReservedIPCPartitions++
		case model == manifest.ModelSFN:
			s.SFNPartitions++
		default:
			s.IPCPartitions++
		}

		for _, svc := range p.Document.Services {
			if svc.IsConnectionBased() {
				s.ConnectionBasedServices++
			} else {
				s.StatelessServices++
			}
		}

		for _, irq := range p.Document.IRQs {
			if irq.Handling == manifest.HandlingFLIH {
				s.FLIHs++
			} else {
				s.SLIHs++
			}
		}
	}
	return s
}

// AllIPCPartitions counts IPC partitions in every PID range.
func (s Statistics) AllIPCPartitions() int {
	return s.IPCPartitions + s.ReservedIPCPartitions
}
