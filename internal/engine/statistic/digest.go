package statistic

import "github.com/influxdata/tdigest"

const digestCompression = 100

// JitterDigest keeps a quantile sketch of the per-frame jitter of a stream.
type JitterDigest struct {
	td *tdigest.TDigest
	n  uint64
}

func NewJitterDigest() *JitterDigest {
	return &JitterDigest{td: tdigest.NewWithCompression(digestCompression)}
}

func (d *JitterDigest) Add(v float64) {
	d.td.Add(v, 1)
	d.n++
}

// Quantile returns the estimated q-quantile, or -1 when nothing was added.
func (d *JitterDigest) Quantile(q float64) float64 {
	if d.n == 0 {
		return -1
	}
	return d.td.Quantile(q)
}

func (d *JitterDigest) Count() uint64 { return d.n }

func (d *JitterDigest) Reset() {
	d.td = tdigest.NewWithCompression(digestCompression)
	d.n = 0
}
