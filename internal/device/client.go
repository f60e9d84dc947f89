// Package device implements the high-level read/write operations the
// orchestrator and acquisition task use to talk to the inverter: grouped
// reads with a fixed fallback partition, selected-field coalescing, and a
// single export-power write with echo verification. Faults are reported
// through a sink the orchestrator owns, never propagated as errors across
// the task boundary or held as a back-pointer.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/fieldlink/invedge/internal/domain"
	"github.com/fieldlink/invedge/internal/modbus"
	"github.com/fieldlink/invedge/internal/ports"
)

// Transport is the minimal hex-frame round trip the device client needs.
type Transport interface {
	Read(ctx context.Context, hexFrame string) (string, error)
	Write(ctx context.Context, hexFrame string) (string, error)
}

// Fault is one classified device-protocol failure.
type Fault struct {
	Kind   string // timeout, exception, malformed, header_mismatch
	Code   byte   // populated when Kind == "exception"
	Detail string
}

// FaultSink receives at most one Fault per client call. The orchestrator
// owns the sink and attaches whatever it has accumulated to the next uplink.
type FaultSink interface {
	ReportFault(f Fault)
}

// fallbackPartition is the fixed address grouping read_all retries with when
// the single grouped read of addresses 0..9 fails.
var fallbackPartition = [][2]uint16{
	{0, 2}, // 0..1
	{2, 1}, // 2
	{3, 2}, // 3..4
	{5, 3}, // 5..7
	{8, 1}, // 8
	{9, 1}, // 9
}

// Client is the device protocol client.
type Client struct {
	tr    Transport
	sink  FaultSink
	obs   ports.Observability
	slave byte
}

// New returns a Client addressing the given Modbus slave id. obs may be nil.
func New(tr Transport, sink FaultSink, obs ports.Observability, slave byte) *Client {
	return &Client{tr: tr, sink: sink, obs: obs, slave: slave}
}

func (c *Client) reportFault(f Fault) {
	if c.sink != nil {
		c.sink.ReportFault(f)
	}
}

// ReadGroup reads count contiguous holding registers starting at addr,
// classifying any failure and reporting exactly one fault event.
func (c *Client) ReadGroup(ctx context.Context, addr, count uint16) ([]uint16, bool) {
	start := time.Now()
	defer func() {
		if c.obs != nil {
			c.obs.ObserveLatency("device_read_latency_seconds", time.Since(start).Seconds())
		}
	}()

	hex := modbus.MakeReadHolding(c.slave, addr, count)
	replyHex, err := c.tr.Read(ctx, hex)
	if err != nil {
		c.reportFault(Fault{Kind: "timeout", Detail: err.Error()})
		return nil, false
	}

	resp, perr := modbus.ParseReadResponse(replyHex)
	if perr != nil {
		if errors.Is(perr, modbus.ErrExceptionFrame) {
			exc, eerr := modbus.ParseExceptionResponse(replyHex)
			if eerr != nil {
				c.reportFault(Fault{Kind: "malformed", Detail: eerr.Error()})
				return nil, false
			}
			c.reportFault(Fault{Kind: "exception", Code: exc.Code, Detail: modbus.ExceptionName(exc.Code)})
			return nil, false
		}
		c.reportFault(Fault{Kind: "malformed", Detail: perr.Error()})
		return nil, false
	}

	if resp.Slave != c.slave || resp.Function != modbus.FuncReadHolding || len(resp.Regs) != int(count) {
		c.reportFault(Fault{Kind: "header_mismatch"})
		return nil, false
	}
	return resp.Regs, true
}

// ReadAll attempts one grouped read of all ten registers; on failure it
// falls back to the fixed partition, populating whichever sub-ranges
// succeed and leaving the rest at their prior value. Returns true iff at
// least one sub-read succeeded.
func (c *Client) ReadAll(ctx context.Context, sample *domain.Sample) bool {
	if regs, ok := c.ReadGroup(ctx, 0, uint16(domain.NumFields)); ok {
		for i, f := range domain.FieldOrder {
			sample.Set(f, regs[i])
		}
		return true
	}

	any := false
	for _, part := range fallbackPartition {
		addr, count := part[0], part[1]
		regs, ok := c.ReadGroup(ctx, addr, count)
		if !ok {
			continue
		}
		any = true
		for i := uint16(0); i < count; i++ {
			sample.Set(domain.FieldOrder[addr+i], regs[i])
		}
	}
	return any
}

// ReadSelected coalesces a sorted, de-duplicated list of field ids into
// maximal contiguous runs and issues one read per run, updating only the
// fields covered by runs that succeed.
func (c *Client) ReadSelected(ctx context.Context, fields []domain.FieldID, sample *domain.Sample) bool {
	any := false
	for _, run := range coalesce(fields) {
		addr, count := run[0], run[1]
		regs, ok := c.ReadGroup(ctx, addr, count)
		if !ok {
			continue
		}
		any = true
		for i := uint16(0); i < count; i++ {
			sample.Set(domain.FieldOrder[addr+i], regs[i])
		}
	}
	return any
}

// coalesce groups a sorted, de-duplicated slice of field ids into maximal
// contiguous [addr, count] runs.
func coalesce(fields []domain.FieldID) [][2]uint16 {
	var runs [][2]uint16
	i := 0
	for i < len(fields) {
		start := fields[i]
		j := i + 1
		for j < len(fields) && fields[j] == fields[j-1]+1 {
			j++
		}
		runs = append(runs, [2]uint16{uint16(start), uint16(j - i)})
		i = j
	}
	return runs
}

// SetExportPower clamps percent to [0,100], writes it to register 8, and
// requires a byte-for-byte echo of the request; any exception or mismatch
// is reported as a fault and the call fails.
func (c *Client) SetExportPower(ctx context.Context, percent int, reason string) bool {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	const exportPercentAddr = 8
	reqHex := modbus.MakeWriteSingle(c.slave, exportPercentAddr, uint16(percent))
	replyHex, err := c.tr.Write(ctx, reqHex)
	if err != nil {
		c.reportFault(Fault{Kind: "timeout", Detail: err.Error()})
		return false
	}

	if echoedException(replyHex) {
		exc, eerr := modbus.ParseExceptionResponse(replyHex)
		if eerr != nil {
			c.reportFault(Fault{Kind: "malformed", Detail: eerr.Error()})
			return false
		}
		c.reportFault(Fault{Kind: "exception", Code: exc.Code, Detail: modbus.ExceptionName(exc.Code)})
		return false
	}

	if !hexEqualFold(replyHex, reqHex) {
		c.reportFault(Fault{Kind: "header_mismatch", Detail: "write echo mismatch"})
		return false
	}
	return true
}

func echoedException(replyHex string) bool {
	_, err := modbus.ParseExceptionResponse(replyHex)
	return err == nil
}

func hexEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
