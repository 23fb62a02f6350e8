package alloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/hearth/internal/errdefs"
)

func TestLetters(t *testing.T) {
	p := Letters("vd", 3)
	assert.Equal(t, 3, p.Cap())
	assert.Equal(t, "vda", p.First())

	got, err := p.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, "vda", got)

	got, err = p.Next([]string{"vda"})
	require.NoError(t, err)
	assert.Equal(t, "vdb", got)

	got, err = p.Next([]string{"vda", "vdc"})
	require.NoError(t, err)
	assert.Equal(t, "vdb", got, "gaps are reused")

	_, err = p.Next([]string{"vda", "vdb", "vdc"})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, errdefs.KindResourceExhausted, errdefs.KindOf(err))
}

func TestLettersCappedAt26(t *testing.T) {
	assert.Equal(t, 26, Letters("hd", 40).Cap())
	assert.Equal(t, 26, DiskDevices().Cap())
	assert.Equal(t, "hda", CDROMDevices().First())
}

func TestIndexed(t *testing.T) {
	p := DataDiskFiles()
	assert.Equal(t, 100, p.Cap())
	assert.Equal(t, "disk0.qcow2", p.First())
	assert.Equal(t, "root_disk0.qcow2", RootDiskFiles().First())

	existing := map[string]bool{"disk0.qcow2": true, "disk1.qcow2": true}
	got, err := p.NextFunc(func(c string) (bool, error) { return existing[c], nil })
	require.NoError(t, err)
	assert.Equal(t, "disk2.qcow2", got)
}

func TestNextFuncPropagatesErrors(t *testing.T) {
	boom := errors.New("stat failed")
	_, err := Indexed("f%d", 2).NextFunc(func(string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestEmptyPool(t *testing.T) {
	p := Indexed("f%d", 0)
	assert.Equal(t, "", p.First())
	_, err := p.Next(nil)
	assert.ErrorIs(t, err, ErrExhausted)
}
