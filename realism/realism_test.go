package realism

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coreframe/retrieval-runtime/record"
)

func TestDetect_PlaceholderLocalURL(t *testing.T) {
	rec := record.New("web/a", record.SourceWeb, "https://site.placeholder.local/page", "t", "c", 0.8, nil)
	matched := Detect(rec, nil, "")
	assert.Contains(t, matched, "placeholder_local_url")
}

func TestDetect_PlaceholderToken(t *testing.T) {
	rec := record.New("web/a", record.SourceWeb, "https://example.com", "TODO title", "lorem ipsum dolor", 0.8, nil)
	matched := Detect(rec, nil, "")
	assert.Contains(t, matched, "placeholder_token")
}

func TestDetect_EchoInput(t *testing.T) {
	rec := record.New("web/a", record.SourceWeb, "https://example.com", `Results for "hello world"`, "", 0.8, nil)
	matched := Detect(rec, nil, "hello world")
	assert.Contains(t, matched, "echo_input")
}

func TestDetect_NoMatch(t *testing.T) {
	rec := record.New("web/a", record.SourceWeb, "https://example.com", "A real title", "Real content about cats", 0.8, nil)
	matched := Detect(rec, nil, "cats")
	assert.Empty(t, matched)
}

func TestDetectBatch_UnionDeduped(t *testing.T) {
	recs := []*record.Record{
		record.New("web/a", record.SourceWeb, "https://a.placeholder.local", "t", "c", 0.8, nil),
		record.New("web/b", record.SourceWeb, "https://b.placeholder.local", "t", "c", 0.8, nil),
	}
	matched := DetectBatch(recs, nil, "")
	assert.Equal(t, []string{"placeholder_local_url"}, matched)
}
