// Package batch implements the delta_rle_v1 columnar codec: per-field
// delta+run-length encoding with a CRC32 trailer.
package batch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"time"

	"github.com/fieldlink/invedge/internal/domain"
)

const (
	version       = 1
	headerLen     = 8 // version, n_fields, n_samples(2), reserved(4)
	uncompressedBytesPerSample = 28 // 10 regs * 2 bytes + 8-byte timestamp; informational only
)

var (
	ErrTruncated    = errors.New("batch: truncated blob")
	ErrBadVersion   = errors.New("batch: unsupported version")
	ErrUnknownOpcode = errors.New("batch: unknown opcode")
	ErrCRCMismatch  = errors.New("batch: crc32 mismatch")
)

// Encode runs delta_rle_v1 over recs in canonical field order and appends a
// CRC32 (IEEE 802.3) trailer over the whole blob.
func Encode(recs []domain.TimestampedRecord) []byte {
	var out bytes.Buffer
	n := len(recs)
	out.WriteByte(version)
	out.WriteByte(byte(domain.NumFields))
	binary.Write(&out, binary.LittleEndian, uint16(n))
	out.Write([]byte{0, 0, 0, 0})

	if n == 0 {
		return appendCRC(out.Bytes())
	}

	initVals := fieldView(recs[0].Sample)
	for _, v := range initVals {
		binary.Write(&out, binary.LittleEndian, v)
	}

	for fi, f := range domain.FieldOrder {
		prev := initVals[fi]
		var zeroRun byte
		for i := 1; i < n; i++ {
			cur := recs[i].Sample.Get(f)
			d := int32(cur) - int32(prev)
			if d == 0 {
				if zeroRun == 255 {
					out.WriteByte(0x00)
					out.WriteByte(zeroRun)
					zeroRun = 0
				}
				zeroRun++
			} else {
				if zeroRun > 0 {
					out.WriteByte(0x00)
					out.WriteByte(zeroRun)
					zeroRun = 0
				}
				out.WriteByte(0x01)
				binary.Write(&out, binary.LittleEndian, int16(d))
				prev = cur
			}
		}
		if zeroRun > 0 {
			out.WriteByte(0x00)
			out.WriteByte(zeroRun)
		}
	}

	return appendCRC(out.Bytes())
}

func appendCRC(blob []byte) []byte {
	c := crc32.ChecksumIEEE(blob)
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], c)
	return append(blob, trailer[:]...)
}

func fieldView(s domain.Sample) [domain.NumFields]uint16 {
	var out [domain.NumFields]uint16
	for i, f := range domain.FieldOrder {
		out[i] = s.Get(f)
	}
	return out
}

// Decode reverses Encode, bounds-checking every opcode and verifying the
// CRC32 trailer. It never decodes into the CRC's own 4 bytes.
func Decode(blob []byte) ([]domain.Sample, error) {
	if len(blob) < headerLen+4 {
		return nil, ErrTruncated
	}
	if blob[0] != version {
		return nil, ErrBadVersion
	}
	nf := int(blob[1])
	n := int(binary.LittleEndian.Uint16(blob[2:4]))
	off := headerLen

	payloadEnd := len(blob) - 4
	if n == 0 {
		given := binary.LittleEndian.Uint32(blob[payloadEnd:])
		if given != crc32.ChecksumIEEE(blob[:payloadEnd]) {
			return nil, ErrCRCMismatch
		}
		return nil, nil
	}
	if off+nf*2 > payloadEnd {
		return nil, ErrTruncated
	}

	last := make([]uint16, nf)
	for i := 0; i < nf; i++ {
		last[i] = binary.LittleEndian.Uint16(blob[off : off+2])
		off += 2
	}

	fields := make([][]uint16, nf)
	for i := range fields {
		fields[i] = make([]uint16, n)
		if n > 0 {
			fields[i][0] = last[i]
		}
	}

	for f := 0; f < nf; f++ {
		produced := 0
		for produced < n-1 {
			if off >= payloadEnd {
				return nil, ErrTruncated
			}
			op := blob[off]
			off++
			switch op {
			case 0x00:
				if off >= payloadEnd {
					return nil, ErrTruncated
				}
				length := int(blob[off])
				off++
				for k := 0; k < length && produced < n-1; k++ {
					fields[f][1+produced] = last[f]
					produced++
				}
			case 0x01:
				if off+2 > payloadEnd {
					return nil, ErrTruncated
				}
				d := int16(binary.LittleEndian.Uint16(blob[off : off+2]))
				off += 2
				cur := uint16(int32(last[f]) + int32(d))
				fields[f][1+produced] = cur
				last[f] = cur
				produced++
			default:
				return nil, ErrUnknownOpcode
			}
		}
	}

	given := binary.LittleEndian.Uint32(blob[payloadEnd:])
	calc := crc32.ChecksumIEEE(blob[:payloadEnd])
	if given != calc {
		return nil, ErrCRCMismatch
	}

	out := make([]domain.Sample, n)
	for i := 0; i < n; i++ {
		var s domain.Sample
		for fi, f := range domain.FieldOrder {
			if fi < nf {
				s.Set(f, fields[fi][i])
			}
		}
		out[i] = s
	}
	return out, nil
}

// BenchResult records the self-check benchmark's outcome: compression
// ratio, encode time, and whether the round trip was lossless.
type BenchResult struct {
	Method     string
	NSamples   int
	OrigBytes  int
	CompBytes  int
	EncodeTime time.Duration
	LosslessOK bool
}

// RunBenchmark encodes recs, decodes the result, and compares sample-by-
// sample. orig_bytes is informational only: it assumes all ten registers
// are transmitted even if the uplink layer sends fewer.
func RunBenchmark(recs []domain.TimestampedRecord) BenchResult {
	r := BenchResult{
		Method:    "delta_rle_v1",
		NSamples:  len(recs),
		OrigBytes: len(recs) * uncompressedBytesPerSample,
	}
	if len(recs) == 0 {
		r.LosslessOK = true
		return r
	}

	start := time.Now()
	blob := Encode(recs)
	r.EncodeTime = time.Since(start)
	r.CompBytes = len(blob)

	decoded, err := Decode(blob)
	if err != nil || len(decoded) != len(recs) {
		r.LosslessOK = false
		return r
	}
	r.LosslessOK = true
	for i, rec := range recs {
		if rec.Sample != decoded[i] {
			r.LosslessOK = false
			break
		}
	}
	return r
}
