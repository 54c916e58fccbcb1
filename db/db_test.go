package db

import "testing"

func TestValueRoundTripThroughAny(t *testing.T) {
	cases := []Value{Null(), Integer(42), Real(3.5), Text("hello")}
	for _, v := range cases {
		got := valueFromAny(v.asAny())
		if got.kind != v.kind {
			t.Fatalf("kind mismatch: got %v want %v", got.kind, v.kind)
		}
		switch v.kind {
		case kindInteger:
			if got.Int() != v.Int() {
				t.Fatalf("Int mismatch: got %d want %d", got.Int(), v.Int())
			}
		case kindReal:
			if got.Float() != v.Float() {
				t.Fatalf("Float mismatch: got %f want %f", got.Float(), v.Float())
			}
		case kindText:
			if got.String() != v.String() {
				t.Fatalf("String mismatch: got %q want %q", got.String(), v.String())
			}
		}
	}
}

func TestValueFromAnyHandlesByteSlice(t *testing.T) {
	v := valueFromAny([]byte("blob-ish"))
	if v.kind != kindText || v.String() != "blob-ish" {
		t.Fatalf("expected []byte to decode as text, got %+v", v)
	}
}

func TestNamespaceSchemaMentionsRequiredColumns(t *testing.T) {
	for _, col := range []string{"path", "type", "content", "mode", "mtime"} {
		if !contains(namespaceSchema, col) {
			t.Fatalf("namespaceSchema missing column %q", col)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
