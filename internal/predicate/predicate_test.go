package predicate

import (
	"errors"
	"testing"
)

func TestCompileContainment(t *testing.T) {
	want := MustCompile(" coffee ")
	if !want.Eval(NewRequirements("coffee", "tv")) {
		t.Error("expected coffee predicate to hold with coffee requirement")
	}
	if want.Eval(NewRequirements("fish", "tv")) {
		t.Error("expected coffee predicate to fail without coffee requirement")
	}
}

func TestCompileOperators(t *testing.T) {
	tests := []struct {
		src  string
		reqs []string
		want bool
	}{
		{"coffee and hugs", []string{"coffee", "hugs"}, true},
		{"coffee and hugs", []string{"coffee"}, false},
		{"coffee or tea", []string{"tea"}, true},
		{"coffee or tea", nil, false},
		{"not decaf", nil, true},
		{"not decaf", []string{"decaf"}, false},
		{"coffee && !decaf", []string{"coffee"}, true},
		{"(coffee || tea) and not sleepy", []string{"tea", "sleepy"}, false},
		{"(coffee || tea) and not sleepy", []string{"tea"}, true},
		{"python2.7 or go-1.22", []string{"go-1.22"}, true},
		{"true", nil, true},
		{"false or FALSE", nil, false},
		{"NOT coffee AND tea", []string{"tea"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tt.src, err)
			}
			if got := p.Eval(NewRequirements(tt.reqs...)); got != tt.want {
				t.Errorf("Eval(%v) = %v, want %v", tt.reqs, got, tt.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"coffee tea",
		"coffee and",
		"(coffee",
		"coffee & tea",
		"coffee == tea",
		"\"coffee\"",
	}
	for _, src := range bad {
		t.Run(src, func(t *testing.T) {
			if _, err := Compile(src); !errors.Is(err, ErrSyntax) {
				t.Errorf("Compile(%q) error = %v, want ErrSyntax", src, err)
			}
		})
	}
}

func TestExprSourceRoundTrip(t *testing.T) {
	src := " coffee and not decaf "
	p := MustCompile(src)
	got, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if got != src {
		t.Errorf("Marshal = %q, want %q", got, src)
	}

	again := MustCompile(got)
	for _, reqs := range [][]string{nil, {"coffee"}, {"coffee", "decaf"}} {
		r := NewRequirements(reqs...)
		if p.Eval(r) != again.Eval(r) {
			t.Errorf("round-tripped predicate disagrees for %v", reqs)
		}
	}
}

func TestExprRequirements(t *testing.T) {
	p := MustCompile("tea or coffee or tea")
	got := p.Requirements()
	if len(got) != 2 || got[0] != "coffee" || got[1] != "tea" {
		t.Errorf("Requirements() = %v, want [coffee tea]", got)
	}
}

func TestMarshalDefaultAndNative(t *testing.T) {
	if src, err := Marshal(nil); err != nil || src != "" {
		t.Errorf("Marshal(nil) = %q, %v", src, err)
	}
	if src, err := Marshal(Always{}); err != nil || src != "" {
		t.Errorf("Marshal(Always) = %q, %v", src, err)
	}

	native := Func(func(r Requirements) bool { return r.Len() > 2 })
	if _, err := Marshal(native); !errors.Is(err, ErrNotSerializable) {
		t.Errorf("Marshal(Func) error = %v, want ErrNotSerializable", err)
	}
	if !native.Eval(NewRequirements("a", "b", "c")) {
		t.Error("native predicate should hold for three requirements")
	}
}

func TestRequirementsList(t *testing.T) {
	r := NewRequirements("b", "a", "b")
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	list := r.List()
	if list[0] != "a" || list[1] != "b" {
		t.Errorf("List() = %v, want [a b]", list)
	}
	if !Eval(nil, r) {
		t.Error("nil predicate should evaluate true")
	}
}
