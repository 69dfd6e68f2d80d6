package eeg

// Chunking policy: the device delivers fixed-size batches of "scans". One
// scan is one sample from every enabled channel at the same instant. Samples
// are time-major interleaved: idx = scan*NumCh + ch. Values are microvolts.
const (
	// MaxChannels bounds per-channel state arrays throughout the runtime.
	MaxChannels = 8

	DefaultNumCh    = 8
	DefaultNumScans = 32 // ~128ms latency @250Hz
	SampleRateHz    = 250
)

// Chunk is a short, fixed-size batch of scans from the acquisition backend.
// Immutable once pushed into the ring.
type Chunk struct {
	Tick     uint64    `json:"tick"`     // monotonic sequence number assigned by the producer
	EpochMS  float64   `json:"epoch_ms"` // wall-clock time the producer received the full chunk, ms
	NumCh    int       `json:"num_ch"`
	NumScans int       `json:"num_scans"`
	Data     []float32 `json:"data"` // interleaved, len = NumCh*NumScans
}

// NewChunk allocates a zeroed chunk of the given shape.
func NewChunk(numCh, numScans int) Chunk {
	return Chunk{
		NumCh:    numCh,
		NumScans: numScans,
		Data:     make([]float32, numCh*numScans),
	}
}

// Sample returns the value for one channel at one scan.
func (c *Chunk) Sample(scan, ch int) float32 {
	return c.Data[scan*c.NumCh+ch]
}

// Clone returns a deep copy so the last-chunk snapshot can be handed to
// readers without aliasing the producer's buffer.
func (c *Chunk) Clone() Chunk {
	out := *c
	out.Data = make([]float32, len(c.Data))
	copy(out.Data, c.Data)
	return out
}
