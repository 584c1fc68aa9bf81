package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/opendatahub/domain"
)

func TestDefaultsLookup(t *testing.T) {
	r := Defaults()

	d, err := r.ByName("announcement")
	require.NoError(t, err)
	assert.Equal(t, "announcements", d.Table)

	d, err = r.Get("ODHActivityPoi")
	require.NoError(t, err)
	assert.Equal(t, "smgpois", d.Table)

	_, err = r.ByName("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownEntity)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Type: "a", Name: "A", Table: "a"}))
	assert.Error(t, r.Register(&Descriptor{Type: "a", Name: "B", Table: "b"}))
	assert.Error(t, r.Register(&Descriptor{Type: "c"}))
}

func TestCanonicalIDCasing(t *testing.T) {
	tests := []struct {
		casing IDCase
		in     string
		want   string
	}{
		{IDUpper, " abc-1 ", "ABC-1"},
		{IDLower, "URN:X:ABC", "urn:x:abc"},
		{IDKeep, "MiXeD", "MiXeD"},
	}
	for _, tt := range tests {
		d := &Descriptor{IDCase: tt.casing}
		assert.Equal(t, tt.want, d.CanonicalID(tt.in))
	}
}

func TestReducedID(t *testing.T) {
	d := &Descriptor{IDCase: IDUpper}
	assert.Equal(t, "ABC_REDUCED", d.ReducedID("abc"))
	assert.Equal(t, "ABC_REDUCED", d.ReducedID("abc_reduced"))
}

func TestNewIDUsesPrefixAndCasing(t *testing.T) {
	d := &Descriptor{IDCase: IDLower, IDPrefix: "urn:announcements:"}
	id := d.NewID()
	assert.True(t, strings.HasPrefix(id, "urn:announcements:"))
	assert.Equal(t, strings.ToLower(id), id)
}

func TestPageSizeBounds(t *testing.T) {
	d := &Descriptor{DefaultPageSize: 10, MaxPageSize: 50}
	assert.Equal(t, 10, d.PageSize(0))
	assert.Equal(t, 20, d.PageSize(20))
	assert.Equal(t, 50, d.PageSize(500))
}

func TestPathFallsBackToDefaults(t *testing.T) {
	r := Defaults()
	d, err := r.Get("announcement")
	require.NoError(t, err)
	assert.Equal(t, "StartTime", d.Path(FieldBegin))
	assert.Equal(t, "SmgActive", d.Path(FieldOdhActive))
	assert.Equal(t, "", d.Path("Unknown"))
}
