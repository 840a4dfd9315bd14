package dispatch

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeArguments_Idempotent(t *testing.T) {
	text := `{"vm_id": "101", "replicas": 3, "labels": {"app": "nginx"}}`
	fromText, err := NormalizeArguments("apply_deployment", text)
	if err != nil {
		t.Fatalf("text: %v", err)
	}

	var structured map[string]any
	json.Unmarshal([]byte(text), &structured)
	fromMap, err := NormalizeArguments("apply_deployment", structured)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	if !reflect.DeepEqual(fromText, fromMap) {
		t.Errorf("expected identical arguments, got %v and %v", fromText, fromMap)
	}

	fromRaw, err := NormalizeArguments("apply_deployment", json.RawMessage(text))
	if err != nil || !reflect.DeepEqual(fromRaw, fromMap) {
		t.Errorf("raw message should decode the same, got %v, %v", fromRaw, err)
	}
}

func TestNormalizeArguments_Nil(t *testing.T) {
	args, err := NormalizeArguments("get_pods", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args == nil || len(args) != 0 {
		t.Errorf("expected empty map, got %v", args)
	}
}

func TestNormalizeArguments_Malformed(t *testing.T) {
	for _, raw := range []string{`{"vm_id":`, ``, `[1,2]`, `"101"`, `null`} {
		_, err := NormalizeArguments("start_proxmox_virtual_machine", raw)
		var malformed *MalformedArgumentsError
		if !errors.As(err, &malformed) {
			t.Errorf("%q: expected MalformedArgumentsError, got %v", raw, err)
			continue
		}
		if malformed.Raw != raw {
			t.Errorf("expected raw text %q in error, got %q", raw, malformed.Raw)
		}
	}
}

func TestNormalizeArguments_UnsupportedShape(t *testing.T) {
	for _, raw := range []any{42, []any{"a"}, true} {
		_, err := NormalizeArguments("get_pods", raw)
		var shape *UnsupportedArgumentShapeError
		if !errors.As(err, &shape) {
			t.Errorf("%v: expected UnsupportedArgumentShapeError, got %v", raw, err)
		}
	}
}

func TestNormalizeArguments_StringMap(t *testing.T) {
	args, err := NormalizeArguments("start_proxmox_virtual_machine", map[string]string{"vm_id": "101"})
	if err != nil || args["vm_id"] != "101" {
		t.Errorf("unexpected result %v, %v", args, err)
	}
}
