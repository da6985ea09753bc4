package badge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-mailer/internal/models"
)

func testParticipant() *models.Participant {
	return &models.Participant{
		UniqueID: "TS-0042",
		FullName: "Alice Mwangi",
		Email:    "alice@example.com",
		Category: models.CategoryAttendee,
	}
}

func TestGenerateWritesPNG(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(dir, "TECHSUMMIT2026")

	path, err := g.Generate(testParticipant())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "qrcode-TS-0042.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(data[:4]))
}

func TestGenerateCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badges", "2026")
	g := NewGenerator(dir, "TECHSUMMIT2026")

	_, err := g.Generate(testParticipant())
	require.NoError(t, err)
}

func TestPayloadFormat(t *testing.T) {
	g := NewGenerator(t.TempDir(), "TECHSUMMIT2026")
	assert.Equal(t, "TECHSUMMIT2026-TS-0042-attendee", g.Payload(testParticipant()))
}

func TestVerify(t *testing.T) {
	g := NewGenerator(t.TempDir(), "TECHSUMMIT2026")
	p := testParticipant()

	assert.True(t, g.Verify("TECHSUMMIT2026-TS-0042-attendee", p))
	assert.False(t, g.Verify("OTHEREVENT-TS-0042-attendee", p))
	assert.False(t, g.Verify("TECHSUMMIT2026-TS-0099-attendee", p))
	assert.False(t, g.Verify("garbage", p))
}
