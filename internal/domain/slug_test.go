package domain

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"billing", "billing"},
		{"Billing Keys", "billing-keys"},
		{"  --Crème Brûlée--  ", "creme-brulee"},
		{"a__b..c", "a-b-c"},
		{"日本語", ""},
		{"v2 API/keys", "v2-api-keys"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_Length(t *testing.T) {
	got := Slugify(strings.Repeat("ab ", 60))
	if len(got) > maxSlugLength {
		t.Errorf("slug length %d exceeds %d", len(got), maxSlugLength)
	}
	if strings.HasSuffix(got, "-") || strings.HasPrefix(got, "-") {
		t.Errorf("slug must not start or end with a dash: %q", got)
	}
}

func TestKeysetName(t *testing.T) {
	if got := KeysetName(42, "Billing"); got != "ns-42-billing" {
		t.Errorf("KeysetName = %q", got)
	}
	// 同じ表示名でもnamespaceが違えば別名になる
	if KeysetName(1, "billing") == KeysetName(2, "billing") {
		t.Error("keyset names must differ across namespaces")
	}
}

func TestKeysetName_NonLatin(t *testing.T) {
	got := KeysetName(42, "請求")
	if !strings.HasPrefix(got, "ns-42-x-") || len(got) != len("ns-42-x-")+hashSlugLength {
		t.Fatalf("unexpected keyset name %q", got)
	}
	if KeysetName(42, " 請求 ") != got {
		t.Error("keyset name must ignore surrounding whitespace")
	}
	// 全角と半角は NFKC で同じ名前になる
	if KeysetName(42, "ｾｲｷｭｳ") != KeysetName(42, "セイキュウ") {
		t.Error("keyset name must be stable across NFKC-equivalent input")
	}
	if KeysetName(42, "請求") == KeysetName(42, "支払") {
		t.Error("different display names must not collide")
	}
	if KeysetName(42, "請求") == KeysetName(7, "請求") {
		t.Error("keyset names must differ across namespaces")
	}
}
