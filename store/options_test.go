package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.True(t, o.AutoIntrospect)
	assert.True(t, o.RevokeOnDelete)
	assert.Equal(t, DefaultMinIntrospectInterval, o.MinIntrospectInterval)
	assert.Equal(t, DefaultMinUserinfoRefreshInterval, o.MinUserinfoRefreshInterval)
}

func TestWithDefaults_FillsZeroDurationsOnly(t *testing.T) {
	o := Options{MinIntrospectInterval: 5 * time.Second}
	filled := o.WithDefaults()

	assert.Equal(t, 5*time.Second, filled.MinIntrospectInterval)
	assert.Equal(t, DefaultMinUserinfoRefreshInterval, filled.MinUserinfoRefreshInterval)
}

func TestWithDefaults_LeavesBoolsAlone(t *testing.T) {
	o := Options{AutoIntrospect: false, RevokeOnDelete: false}
	filled := o.WithDefaults()

	assert.False(t, filled.AutoIntrospect)
	assert.False(t, filled.RevokeOnDelete)
}

func TestMetadata_Accessors(t *testing.T) {
	m := Metadata{"sub": "u1", "client_id": "c1", "scope": []string{"a", "b"}}

	sub, ok := m.Subject()
	assert.True(t, ok)
	assert.Equal(t, "u1", sub)

	cid, ok := m.ClientID()
	assert.True(t, ok)
	assert.Equal(t, "c1", cid)

	assert.ElementsMatch(t, []string{"a", "b"}, m.Scopes())
}

func TestMetadata_Scopes_FromJSONAnySlice(t *testing.T) {
	m := Metadata{"scope": []any{"a", "b"}}
	assert.ElementsMatch(t, []string{"a", "b"}, m.Scopes())
}

func TestMetadata_Clone_IsIndependent(t *testing.T) {
	m := Metadata{"sub": "u1"}
	clone := m.Clone()
	clone["sub"] = "u2"

	assert.Equal(t, "u1", m["sub"])
	assert.Equal(t, "u2", clone["sub"])
}

func TestMetadata_Clone_Nil(t *testing.T) {
	var m Metadata
	assert.Nil(t, m.Clone())
}

func TestMetadata_Subject_EmptyStringNotOK(t *testing.T) {
	m := Metadata{"sub": ""}
	_, ok := m.Subject()
	assert.False(t, ok)
}
