package telegram

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/models"
)

const maxFrameSize = 16 * 1024

// P1Reader parses DSMR P1 frames from a byte stream:
//
//	/ISK5\2M550T-1012
//
//	1-3:0.2.8(50)
//	1-0:1.8.1(001234.567*kWh)
//	...
//	!1F2A
//
// The CRC16 after '!' is verified when present (DSMR 4+).
type P1Reader struct {
	r   *bufio.Reader
	now func() time.Time
}

// NewP1Reader wraps r, typically an opened serial device.
func NewP1Reader(r io.Reader) *P1Reader {
	return &P1Reader{r: bufio.NewReader(r), now: time.Now}
}

// Next returns the next telegram. Malformed frames yield an error wrapping
// ErrDecode; the reader is then positioned after the bad frame.
func (p *P1Reader) Next(ctx context.Context) (models.Telegram, error) {
	var frame bytes.Buffer
	started := false

	for {
		if err := ctx.Err(); err != nil {
			return models.Telegram{}, err
		}

		line, err := p.r.ReadBytes('\n')
		if err != nil && !(err == io.EOF && len(line) > 0) {
			return models.Telegram{}, err
		}

		if !started {
			if i := bytes.IndexByte(line, '/'); i >= 0 {
				line = line[i:]
				started = true
			} else {
				continue
			}
		}

		if line[0] == '!' {
			checksum := strings.TrimSpace(string(line[1:]))
			frame.WriteByte('!')
			return p.decode(frame.Bytes(), checksum)
		}

		frame.Write(line)
		if frame.Len() > maxFrameSize {
			return models.Telegram{}, fmt.Errorf("%w: frame exceeds %d bytes", ErrDecode, maxFrameSize)
		}
	}
}

func (p *P1Reader) decode(frame []byte, checksum string) (models.Telegram, error) {
	if checksum != "" {
		want, err := strconv.ParseUint(checksum, 16, 16)
		if err != nil {
			return models.Telegram{}, fmt.Errorf("%w: bad checksum %q", ErrDecode, checksum)
		}
		if got := CRC16(frame); got != uint16(want) {
			return models.Telegram{}, fmt.Errorf("%w: checksum mismatch: got %04X want %04X", ErrDecode, got, want)
		}
	}

	t := models.Telegram{ReceivedAt: p.now()}
	lines := strings.Split(string(frame[:len(frame)-1]), "\n")
	for _, raw := range lines[1:] {
		line := strings.TrimRight(raw, "\r")
		if line == "" {
			continue
		}
		field, err := parseLine(line)
		if err != nil {
			return models.Telegram{}, err
		}
		t.Fields = append(t.Fields, field)
	}
	if len(t.Fields) == 0 {
		return models.Telegram{}, fmt.Errorf("%w: empty telegram", ErrDecode)
	}
	return t, nil
}

// parseLine splits "OBIS(v1)(v2)..." into a field. Gas readings carry a
// timestamp group followed by the value; the last group is kept. Other
// multi-group lines (event logs) keep their raw text.
func parseLine(line string) (models.Field, error) {
	open := strings.IndexByte(line, '(')
	if open <= 0 || !strings.HasSuffix(line, ")") {
		return models.Field{}, fmt.Errorf("%w: malformed line %q", ErrDecode, line)
	}
	obis := line[:open]
	rest := line[open:]
	id := FieldForOBIS(obis)

	groups := strings.Split(strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")"), ")(")
	switch {
	case len(groups) == 1:
		return models.Field{ID: id, Value: groups[0]}, nil
	case id == "HOURLY_GAS_METER_READING":
		return models.Field{ID: id, Value: groups[len(groups)-1]}, nil
	default:
		return models.Field{ID: id, Value: rest}, nil
	}
}

// CRC16 computes CRC-16/ARC (poly 0xA001 reflected, init 0) as used by
// DSMR over the frame from '/' up to and including '!'.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
