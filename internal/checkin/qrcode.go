// Package checkin renders the QR code check-in devices scan to find the
// attendance page and channel.
package checkin

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/abyssinia-assembly/attendance/internal/realtime"
)

// DefaultPNGSize is the edge length of GeneratePNG images in pixels.
const DefaultPNGSize = 256

// Info is the payload encoded in the QR code.
type Info struct {
	PageURL  string `json:"page,omitempty"`
	Endpoint string `json:"ws"`
}

// QRGenerator builds check-in QR codes.
type QRGenerator struct {
	info Info
}

// NewQRGenerator creates a generator. The channel endpoint is derived from
// pageURL the same way the client derives it. With no page URL the local
// endpoint on port is advertised from host.
func NewQRGenerator(pageURL, host string, port int) *QRGenerator {
	endpoint := realtime.ResolveEndpoint(pageURL)
	if pageURL == "" && host != "" && host != "0.0.0.0" {
		endpoint = fmt.Sprintf("ws://%s:%d%s", host, port, realtime.AttendancePath)
	}
	return &QRGenerator{info: Info{PageURL: pageURL, Endpoint: endpoint}}
}

// Info returns the encoded payload.
func (g *QRGenerator) Info() Info {
	return g.info
}

// GenerateJSON returns the payload as JSON.
func (g *QRGenerator) GenerateJSON() (string, error) {
	data, err := json.Marshal(g.info)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenerateTerminal renders the QR code with half-block characters.
func (g *QRGenerator) GenerateTerminal() (string, error) {
	payload, err := g.GenerateJSON()
	if err != nil {
		return "", err
	}

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// GeneratePNG renders the QR code as a PNG image.
func (g *QRGenerator) GeneratePNG(size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultPNGSize
	}
	payload, err := g.GenerateJSON()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// Print writes the QR code and the endpoint it points to.
func (g *QRGenerator) Print(w io.Writer) error {
	qrStr, err := g.GenerateTerminal()
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Scan to check in:")
	fmt.Fprintln(w)
	for _, line := range strings.Split(qrStr, "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintf(w, "\n  Channel: %s\n\n", g.info.Endpoint)
	return nil
}
