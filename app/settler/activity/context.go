package activity

import (
	"runtime"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	temporalclient "github.com/proofofgood/engine/pkg/temporal"
)

type Context struct {
	Logger *zap.Logger
	// For settlement calls against the engine API
	API *APIClient
	// For scheduling finalize workflows
	TemporalClient *temporalclient.Client
	// ScanMaxParallelism allows overriding the default scan pool size.
	ScanMaxParallelism int
	scanPoolOnce       sync.Once
	scanPool           pond.Pool
}

// scanBatchPool returns a shared worker pool for starting finalize
// workflows out of a due scan.
func (c *Context) scanBatchPool() pond.Pool {
	c.scanPoolOnce.Do(func() {
		c.scanPool = pond.NewPool(
			ScanParallelism(c.ScanMaxParallelism),
			pond.WithQueueSize(1024),
		)
	})

	return c.scanPool
}

// ScanParallelism calculates the parallelism for the scan pool. Due scans
// are light on CPU and heavy on Temporal round trips, so a small multiple
// of the CPU count keeps throughput up without flooding the server.
func ScanParallelism(override int) int {
	if override > 0 {
		if override > 64 {
			return 64
		}
		return override
	}

	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}

	parallelism := n * 2
	if parallelism < 2 {
		parallelism = 2
	}
	if parallelism > 64 {
		parallelism = 64
	}

	return parallelism
}
