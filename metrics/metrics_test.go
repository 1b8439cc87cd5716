package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/partdb/database"
	"github.com/c360studio/partdb/spmconfig"
	"github.com/c360studio/partdb/stateless"
)

// gathered returns the value of every sample of a metric family keyed by
// its joined label values.
func gathered(t *testing.T, c *Collector, name string) map[string]float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for i, l := range m.GetLabel() {
				if i > 0 {
					key += ","
				}
				key += l.GetValue()
			}
			switch {
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func testDatabase() *database.Database {
	stats := spmconfig.Statistics{
		IPCPartitions:           3,
		ReservedIPCPartitions:   1,
		ConnectionBasedServices: 4,
		StatelessServices:       2,
		FLIHs:                   1,
	}
	flags, _ := spmconfig.Derive(stats, spmconfig.BackendIPC, 2)
	return &database.Database{
		Statistics: stats,
		Config:     flags,
		Stateless: stateless.Table{
			Capacity: 4,
			Slots:    make([]stateless.Slot, 4),
		},
	}
}

func TestObserve(t *testing.T) {
	c := New()
	c.Observe(testDatabase())

	partitions := gathered(t, c, "partdb_partitions")
	assert.Equal(t, 3.0, partitions["IPC,user"])
	assert.Equal(t, 1.0, partitions["IPC,reserved"])
	assert.Equal(t, 0.0, partitions["SFN,user"])

	services := gathered(t, c, "partdb_services")
	assert.Equal(t, 4.0, services["connection_based"])
	assert.Equal(t, 2.0, services["stateless"])

	irqs := gathered(t, c, "partdb_irqs")
	assert.Equal(t, 1.0, irqs["FLIH"])

	slots := gathered(t, c, "partdb_stateless_slots")
	assert.Equal(t, 0.0, slots["used"])
	assert.Equal(t, 4.0, slots["free"])

	flags := gathered(t, c, "partdb_config_flag")
	assert.Len(t, flags, len(spmconfig.FlagNames))
	assert.Equal(t, 1.0, flags[spmconfig.FlagBackendIPC])
	assert.Equal(t, 1.0, flags[spmconfig.FlagSupervisorCall])
	assert.Equal(t, 0.0, flags[spmconfig.FlagBackendSFN])
}

func TestObserveReplacesPrevious(t *testing.T) {
	c := New()
	c.Observe(testDatabase())

	db := testDatabase()
	db.Statistics.IPCPartitions = 1
	c.Observe(db)

	assert.Equal(t, 1.0, gathered(t, c, "partdb_partitions")["IPC,user"])
}

func TestRecordBuild(t *testing.T) {
	c := New()
	c.RecordBuild(nil)
	c.RecordBuild(nil)
	c.RecordBuild(errors.New("boom"))

	builds := gathered(t, c, "partdb_builds_total")
	assert.Equal(t, 2.0, builds[ResultSuccess])
	assert.Equal(t, 1.0, builds[ResultFailure])
}

func TestWriteTextfile(t *testing.T) {
	c := New()
	c.RecordBuild(nil)
	c.Observe(testDatabase())

	path := filepath.Join(t.TempDir(), "partdb.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `partdb_builds_total{result="success"} 1`)
	assert.Contains(t, string(data), "# TYPE partdb_partitions gauge")
}

func TestWriteTextfileBadPath(t *testing.T) {
	c := New()
	err := c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "partdb.prom"))
	assert.Error(t, err)
}
