package settings

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseAlignment(t *testing.T) {
	assert.Equal(t, AlignLeft, ParseAlignment("left"))
	assert.Equal(t, AlignRight, ParseAlignment(" RIGHT "))
	assert.Equal(t, AlignCenter, ParseAlignment("center"))
	assert.Equal(t, AlignLeft, ParseAlignment("0"))
	assert.Equal(t, AlignCenter, ParseAlignment("diagonal"))
	assert.Equal(t, AlignCenter, Alignment(7).Normalize())
	assert.Equal(t, "center", Alignment(-1).String())
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 12.0, d.FontSize)
	assert.Equal(t, "Default", d.FontName)
	assert.Equal(t, 40, d.LabelWidth)
	assert.Equal(t, 30, d.LabelHeight)
	assert.Equal(t, AlignLeft, d.Alignment)
	assert.Equal(t, 3, d.LinesPerFeed)
	assert.Equal(t, DefaultProfile, d.CurrentProfile)
	assert.Equal(t, 50, d.Density)
	assert.Equal(t, 2, d.Speed)
	assert.Equal(t, "Standard", d.PrintMode)
	assert.Equal(t, "Bottom", d.CustomText.Position)
	assert.NoError(t, d.Validate())
}

func TestNormalize(t *testing.T) {
	s := PrinterSettings{Alignment: 9, FontName: "Comic", Density: 400}
	s.Normalize()
	assert.Equal(t, AlignCenter, s.Alignment)
	assert.Equal(t, "Default", s.FontName)
	assert.Equal(t, 100, s.Density)
	assert.Equal(t, 1, s.LinesPerFeed)
	assert.Equal(t, 24.0, s.ProductNameSize)
}

func TestStoreInMemory(t *testing.T) {
	s, err := Open("", zaptest.NewLogger(t))
	require.NoError(t, err)

	p, err := s.Update(func(p *PrinterSettings) { p.FontSize = 24; p.Alignment = AlignCenter })
	require.NoError(t, err)
	assert.Equal(t, 24.0, p.FontSize)
	assert.Equal(t, AlignCenter, s.Snapshot().Alignment)

	_, err = s.Update(func(p *PrinterSettings) { p.LinesPerFeed = 0 })
	assert.True(t, errors.IsNotValid(err))
	assert.Equal(t, 3, s.Snapshot().LinesPerFeed, "rejected update must not apply")

	p, err = s.ResetToDefaults()
	require.NoError(t, err)
	assert.Equal(t, 12.0, p.FontSize)
}

func TestStoreProfilesPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.yaml")
	log := zaptest.NewLogger(t)

	s, err := Open(path, log)
	require.NoError(t, err)
	_, err = s.SwitchProfile("Walk-in")
	require.NoError(t, err)
	_, err = s.Update(func(p *PrinterSettings) { p.LabelWidth = 58; p.Alignment = AlignRight })
	require.NoError(t, err)

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "alignment: right")

	s2, err := Open(path, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"Default", "Walk-in"}, s2.Profiles())
	snap := s2.Snapshot()
	assert.Equal(t, "Walk-in", snap.CurrentProfile)
	assert.Equal(t, 58, snap.LabelWidth)
	assert.Equal(t, AlignRight, snap.Alignment)

	require.NoError(t, s2.DeleteProfile("Walk-in"))
	assert.Equal(t, DefaultProfile, s2.Snapshot().CurrentProfile)
	assert.True(t, errors.IsNotValid(s2.DeleteProfile(DefaultProfile)))
	assert.True(t, errors.IsNotFound(s2.DeleteProfile("gone")))
}

func TestStoreConcurrentUpdates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	log := zaptest.NewLogger(t)
	s, err := Open(path, log)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			_, err := s.Update(func(p *PrinterSettings) { p.Density = d })
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reopened, err := Open(path, log)
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), reopened.Snapshot())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files left behind")
	assert.Equal(t, "settings.yaml", entries[0].Name())
}

func TestOpenRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: [unclosed"), 0o644))
	_, err := Open(path, zaptest.NewLogger(t))
	assert.Error(t, err)
}
