package domain

// Manifest describes a firmware image offered by the cloud.
type Manifest struct {
	Version   string `json:"version"`
	Size      uint32 `json:"size"`
	HashHex   string `json:"hash_hex"` // 64 hex chars = 32 bytes (SHA-256)
	ChunkSize uint32 `json:"chunk_size"`
}

// Equal reports whether two manifests describe the same image.
func (m Manifest) Equal(o Manifest) bool {
	return m.Version == o.Version && m.HashHex == o.HashHex && m.Size == o.Size
}

// RegionState is the running partition's self-reported boot health.
type RegionState int

const (
	RegionFresh RegionState = iota
	RegionPendingVerify
	RegionValid
	RegionInvalid
)

func (s RegionState) String() string {
	switch s {
	case RegionFresh:
		return "fresh"
	case RegionPendingVerify:
		return "pending_verify"
	case RegionValid:
		return "valid"
	case RegionInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}
