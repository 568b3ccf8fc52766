package telegram

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/term"
)

// DefaultBaud is the P1 line speed of DSMR 4 and 5 meters.
const DefaultBaud = 115200

// OpenDevice opens the P1 port at baud in raw mode: 8 data bits, no parity
// and no line translation, so CR LF reaches the CRC check untouched.
// The path "-" reads standard input instead.
func OpenDevice(path string, baud int) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	t, err := term.Open(path, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", path, baud, err)
	}
	return t, nil
}
