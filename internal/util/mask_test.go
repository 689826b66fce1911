package util

import "testing"

func TestMaskDSN(t *testing.T) {
	cases := map[string]string{
		"":                                           "",
		"postgres://app:s3cret@db:5432/cfg":          "postgres://app:***@db:5432/cfg",
		"postgres://app@db/cfg":                      "postgres://app@db/cfg",
		"app:s3cret@tcp(db:3306)/cfg?parseTime=true": "app:***@tcp(db:3306)/cfg?parseTime=true",
		"app@tcp(db:3306)/cfg":                       "app@tcp(db:3306)/cfg",
		"host=db user=app":                           "host=db user=app",
	}
	for in, want := range cases {
		if got := MaskDSN(in); got != want {
			t.Fatalf("MaskDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("abc"); got != "***" {
		t.Fatalf("got %q", got)
	}
	if got := MaskSecret("password"); got != "p…d" {
		t.Fatalf("got %q", got)
	}
}
