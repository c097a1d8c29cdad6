package i18n

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name   string
		accept string
		pref   string
		want   string
	}{
		{name: "empty", want: "en"},
		{name: "exact", accept: "ja", want: "ja"},
		{name: "region", accept: "pt-BR,pt;q=0.9,en;q=0.8", want: "pt"},
		{name: "weighted", accept: "de-DE,nl;q=0.8,en;q=0.5", want: "nl"},
		{name: "chinese", accept: "zh-CN", want: "zh-CN"},
		{name: "unsupported", accept: "fr-FR", want: "en"},
		{name: "malformed", accept: ";;;", want: "en"},
		{name: "preference wins", accept: "ja", pref: "sv", want: "sv"},
		{name: "preference case", pref: "ZH-cn", want: "zh-CN"},
		{name: "unsupported preference ignored", accept: "ko", pref: "xx", want: "ko"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.accept, tt.pref))
		})
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("en"))
	assert.True(t, IsSupported("zh-cn"))
	assert.False(t, IsSupported("fr"))
	assert.False(t, IsSupported(""))
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readJSON(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestGenerateLocales(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "en.json"), map[string]interface{}{
		"common": map[string]interface{}{
			"save":   "Save",
			"cancel": "Cancel",
		},
		"albums": map[string]interface{}{
			"title": "Albums",
			"empty": "No albums yet <3",
		},
	})
	writeJSON(t, filepath.Join(dir, "ja.json"), map[string]interface{}{
		"common": map[string]interface{}{
			"save":     "保存",
			"obsolete": "古い",
		},
		"albums": "wrong shape",
	})

	reports, err := GenerateLocales(dir)
	require.NoError(t, err)
	require.Len(t, reports, len(Supported)-1)

	byLocale := map[string]LocaleReport{}
	for _, r := range reports {
		byLocale[r.Locale] = r
		assert.FileExists(t, r.Path)
	}

	ja := byLocale["ja"]
	assert.False(t, ja.Created)
	assert.Equal(t, 4, ja.Keys)
	assert.Equal(t, 3, ja.Added)
	assert.Equal(t, 2, ja.Removed)

	got := readJSON(t, filepath.Join(dir, "ja.json"))
	common := got["common"].(map[string]interface{})
	assert.Equal(t, "保存", common["save"])
	assert.Equal(t, "Cancel", common["cancel"])
	assert.NotContains(t, common, "obsolete")
	assert.Equal(t, "Albums", got["albums"].(map[string]interface{})["title"])

	nl := byLocale["nl"]
	assert.True(t, nl.Created)
	assert.Equal(t, 4, nl.Added)

	raw, err := os.ReadFile(filepath.Join(dir, "nl.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<3")

	missing, err := MissingKeys(dir, "ja")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestGenerateLocalesWithoutSource(t *testing.T) {
	_, err := GenerateLocales(t.TempDir())
	require.Error(t, err)
}

func TestMissingKeys(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "en.json"), map[string]interface{}{
		"a": "A",
		"nested": map[string]interface{}{
			"b": "B",
			"c": "C",
		},
	})
	writeJSON(t, filepath.Join(dir, "ko.json"), map[string]interface{}{
		"nested": map[string]interface{}{"b": "비"},
	})

	missing, err := MissingKeys(dir, "ko")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "nested.c"}, missing)
}
