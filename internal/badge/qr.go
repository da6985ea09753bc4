// Package badge produces participant check-in QR codes as PNG files on
// disk. The encoded payload is `{eventTag}-{uniqueID}-{category}`, which the
// check-in desk scans and verifies against the registration store.
package badge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"event-mailer/internal/models"
)

const qrSizePixels = 300

// Generator writes QR badges into a storage directory, one PNG per
// participant.
type Generator struct {
	dir      string
	eventTag string
}

func NewGenerator(dir, eventTag string) *Generator {
	return &Generator{dir: dir, eventTag: eventTag}
}

// Generate renders the participant's payload to
// `{dir}/qrcode-{uniqueID}.png` and returns the path. High error correction
// keeps badges scannable when printed small or creased.
func (g *Generator) Generate(p *models.Participant) (string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("create badge directory: %w", err)
	}

	path := filepath.Join(g.dir, fmt.Sprintf("qrcode-%s.png", p.UniqueID))
	if err := qrcode.WriteFile(g.Payload(p), qrcode.High, qrSizePixels, path); err != nil {
		return "", fmt.Errorf("write qr code for %s: %w", p.UniqueID, err)
	}
	return path, nil
}

// Payload returns the string encoded into the participant's QR code.
func (g *Generator) Payload(p *models.Participant) string {
	return fmt.Sprintf("%s-%s-%s", g.eventTag, p.UniqueID, p.Category)
}

// Verify checks a scanned payload against the expected participant. It
// returns false for foreign events, malformed payloads, and id mismatches.
func (g *Generator) Verify(payload string, p *models.Participant) bool {
	if !strings.HasPrefix(payload, g.eventTag+"-") {
		return false
	}
	return payload == g.Payload(p)
}
