package repl

import (
	"reflect"
	"testing"
)

func TestFilterHistory(t *testing.T) {
	h := []string{"sum(a)", "sum(b)", "sum(a)", "rate(a)"}
	cases := []struct {
		prefix string
		want   []string
	}{
		{prefix: "", want: []string{"rate(a)", "sum(a)", "sum(b)", "sum(a)"}},
		{prefix: "sum", want: []string{"sum(a)", "sum(b)", "sum(a)"}},
		{prefix: "sum(a)", want: []string{"sum(a)", "sum(a)"}},
		{prefix: "foo", want: []string{}},
	}
	for _, tc := range cases {
		if got := filterHistory(tc.prefix, h); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("filterHistory(%q) got=%#v want=%#v", tc.prefix, got, tc.want)
		}
	}
}

func TestHistoryNav(t *testing.T) {
	var nav historyNav
	if _, ok := nav.older(); ok {
		t.Fatalf("inactive navigation must not move")
	}

	nav.start("rate(x", "rate", []string{"rate(a)", "up", "rate(b)"})
	steps := []struct {
		older bool
		want  string
	}{
		{older: true, want: "rate(b)"},
		{older: true, want: "rate(a)"},
		{older: true, want: "rate(a)"},
		{older: false, want: "rate(b)"},
		{older: false, want: "rate(x"},
	}
	for i, st := range steps {
		step := nav.newer
		if st.older {
			step = nav.older
		}
		got, ok := step()
		if !ok || got != st.want {
			t.Fatalf("step %d got=%q ok=%v want %q", i, got, ok, st.want)
		}
	}
	if nav.active {
		t.Fatalf("stepping past the newest match must end navigation")
	}

	nav.start("zz", "zz", []string{"up"})
	if _, ok := nav.older(); ok {
		t.Fatalf("no matches must not move")
	}
}
