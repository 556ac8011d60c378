package models

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestMetadataMarshalReplacesNaN(t *testing.T) {
	m := Metadata{
		"score":   math.NaN(),
		"latency": 1.5,
		"text":    "hello",
		"nested": map[string]interface{}{
			"inf":    math.Inf(1),
			"neginf": math.Inf(-1),
			"ok":     2,
		},
		"list": []interface{}{math.NaN(), "x", 3.0},
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}

	if out["score"] != nil {
		t.Errorf("expected NaN to serialize as null, got %v", out["score"])
	}
	if out["latency"] != 1.5 {
		t.Errorf("expected latency 1.5, got %v", out["latency"])
	}

	nested := out["nested"].(map[string]interface{})
	if nested["inf"] != nil || nested["neginf"] != nil {
		t.Errorf("expected infinities to serialize as null, got %v", nested)
	}
	if nested["ok"] != 2.0 {
		t.Errorf("expected nested ok 2, got %v", nested["ok"])
	}

	list := out["list"].([]interface{})
	if list[0] != nil || list[1] != "x" || list[2] != 3.0 {
		t.Errorf("unexpected list after sanitizing: %v", list)
	}
}

func TestMetadataMarshalNil(t *testing.T) {
	var m Metadata

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if s := strings.TrimSpace(string(data)); s != "null" && s != "{}" {
		t.Fatalf("unexpected nil metadata encoding: %s", s)
	}
}

func TestMetadataMarshalFloat32(t *testing.T) {
	m := Metadata{"f": float32(math.NaN())}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}
	if out["f"] != nil {
		t.Errorf("expected float32 NaN to serialize as null, got %v", out["f"])
	}
}
