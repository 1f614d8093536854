package document

import (
	"reflect"
	"sort"
	"testing"
)

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	doc := Document{
		"http": map[string]any{
			"routers": map[string]any{
				"r1": map[string]any{
					"rule":     "PathPrefix(`/a`)",
					"priority": "3",
				},
			},
			"services": map[string]any{
				"s1": map[string]any{
					"loadBalancer": map[string]any{
						"servers": []any{
							map[string]any{"url": "http://10.0.0.1:80"},
						},
					},
				},
			},
		},
	}

	pairs := Flatten(doc)
	got := Unflatten(pairs)

	if !reflect.DeepEqual(normalize(doc), normalize(got)) {
		t.Errorf("round trip mismatch:\n got=%#v\nwant=%#v", got, doc)
	}
}

// normalize converts nested Document values into map[string]any so
// reflect.DeepEqual doesn't trip on the Document/map[string]any distinction.
func normalize(v any) any {
	switch t := v.(type) {
	case Document:
		m := map[string]any{}
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case map[string]any:
		m := map[string]any{}
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalize(val)
		}
		return s
	default:
		return v
	}
}

func TestFlattenEmptyMapEmitsNothing(t *testing.T) {
	doc := Document{
		"a": map[string]any{
			"b": map[string]any{},
		},
	}
	pairs := Flatten(doc)
	if len(pairs) != 0 {
		t.Errorf("expected empty map to flatten to zero pairs, got %v", pairs)
	}
}

func TestFlattenDeterministicOrder(t *testing.T) {
	doc := Document{
		"z": "last",
		"a": "first",
		"m": "middle",
	}
	pairs := Flatten(doc)
	var keys []string
	for _, p := range pairs {
		keys = append(keys, p.Path[0])
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("expected sorted paths, got %v", keys)
	}
}

func TestMergeCallerWins(t *testing.T) {
	base := Document{
		"api": map[string]any{"insecure": "false"},
		"entryPoints": map[string]any{
			"http": map[string]any{"address": ":8000"},
		},
	}
	patch := Document{
		"entryPoints": map[string]any{
			"http": map[string]any{"address": ":9000"},
		},
	}
	merged := Merge(base, patch)
	ep := merged["entryPoints"].(map[string]any)["http"].(map[string]any)
	if ep["address"] != ":9000" {
		t.Errorf("expected patch value to win, got %v", ep["address"])
	}
	api := merged["api"].(map[string]any)
	if api["insecure"] != "false" {
		t.Errorf("expected base-only keys preserved, got %v", api)
	}
}

func TestFlattenToStringsWireFormat(t *testing.T) {
	doc := Document{
		"http": map[string]any{
			"routers": map[string]any{
				"jupyterhub_x": map[string]any{"rule": "PathPrefix(`/x`)"},
			},
		},
	}
	flat := FlattenToStrings(doc)
	if flat["http/routers/jupyterhub_x/rule"] != "PathPrefix(`/x`)" {
		t.Errorf("unexpected flat map: %v", flat)
	}
}
