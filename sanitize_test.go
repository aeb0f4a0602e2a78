package main

import "testing"

func TestSanitizeText(t *testing.T) {
	cases := map[string]string{
		"plain words":                              "plain words",
		"<b>bold</b> move":                         "bold move",
		"hi<script>alert('x')</script> there":      "hi there",
		"Tom &amp; Jerry":                          "Tom &amp; Jerry",
		"Tom & Jerry":                              "Tom &amp; Jerry",
		"&lt;img src=x onerror=alert(1)&gt;":       "&lt;img src=x onerror=alert(1)&gt;",
		`say "hi"`:                                 "say &#34;hi&#34;",
		"line one<br>line two":                     "line one\nline two",
		"  lots    of\t\tspace  ":                  "lots of space",
		"<p>first</p><p>second</p>":                "first\nsecond",
		"<style>p{color:red}</style><i>styled</i>": "styled",
	}
	for in, want := range cases {
		if got := sanitizeText(in); got != want {
			t.Errorf("sanitizeText(%q) = %q, want %q", in, got, want)
		}
	}
}
