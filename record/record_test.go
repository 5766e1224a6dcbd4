package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveID_Deterministic(t *testing.T) {
	attrs := map[string]interface{}{"b": 2, "a": 1}
	id1 := DeriveID("web/a", SourceWeb, "https://x.com", "title", "content", attrs)
	id2 := DeriveID("web/a", SourceWeb, "https://x.com", "title", "content", attrs)
	assert.Equal(t, id1, id2)
}

func TestDeriveID_AttributeKeyOrderInsensitive(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}
	assert.Equal(t, DeriveID("p", SourceWeb, "u", "t", "c", a), DeriveID("p", SourceWeb, "u", "t", "c", b))
}

func TestDeriveID_DiffersOnAnyField(t *testing.T) {
	base := DeriveID("p", SourceWeb, "u", "t", "c", nil)
	assert.NotEqual(t, base, DeriveID("p2", SourceWeb, "u", "t", "c", nil))
	assert.NotEqual(t, base, DeriveID("p", SourceCommunity, "u", "t", "c", nil))
	assert.NotEqual(t, base, DeriveID("p", SourceWeb, "u2", "t", "c", nil))
}

func TestNew_ConfidenceClamp(t *testing.T) {
	assert.Equal(t, 0.5, New("p", SourceWeb, "", "", "", 0, nil).Confidence)
	assert.Equal(t, 0.0, New("p", SourceWeb, "", "", "", -1, nil).Confidence)
	assert.Equal(t, 1.0, New("p", SourceWeb, "", "", "", 5, nil).Confidence)
	assert.Equal(t, 0.3, New("p", SourceWeb, "", "", "", 0.3, nil).Confidence)
}

func TestSetAttribute_LazyInit(t *testing.T) {
	r := &Record{}
	r.SetAttribute("k", "v")
	assert.Equal(t, "v", r.Attributes["k"])
}
