package st

import (
	"reflect"
	"testing"
)

func testPath(names ...string) ResolvedPath {
	p := NewRootPath(RootSIndex)
	for _, n := range names {
		p = p.Join(SOID{Sidx: RootSIndex, OID: OID("oid-" + n)}, n)
	}
	return p
}

func TestResolvedPath_Relations(t *testing.T) {
	foo := testPath("foo")
	fooBar := testPath("foo", "bar")
	foobar := testPath("foobar")

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"child under parent", fooBar.IsUnderOrEqual(foo), true},
		{"path under itself", foo.IsUnderOrEqual(foo), true},
		{"parent not under child", foo.IsUnderOrEqual(fooBar), false},
		{"name prefix is not containment", foobar.IsUnderOrEqual(foo), false},
		{"strictly under", fooBar.IsStrictlyUnder(foo), true},
		{"not strictly under itself", foo.IsStrictlyUnder(foo), false},
		{"everything under root", fooBar.IsUnderOrEqual(NewRootPath(RootSIndex)), true},
		{"other store", fooBar.IsUnderOrEqual(NewRootPath(2)), false},
		{"same location", testPath("foo").SameLocation(foo), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestResolvedPath_Navigation(t *testing.T) {
	p := testPath("foo", "bar", "baz")

	if got := p.String(); got != "foo/bar/baz" {
		t.Errorf("String() = %q", got)
	}
	if got := p.Parent().String(); got != "foo/bar" {
		t.Errorf("Parent() = %q", got)
	}
	if got := p.SOID().OID; got != "oid-baz" {
		t.Errorf("SOID() = %q", got)
	}
	if got := p.Rel(testPath("foo")); !reflect.DeepEqual(got, []string{"bar", "baz"}) {
		t.Errorf("Rel() = %v", got)
	}
	if !p.Contains(SOID{Sidx: RootSIndex, OID: "oid-bar"}) {
		t.Error("Contains(bar) = false")
	}

	root := NewRootPath(RootSIndex)
	if !root.IsEmpty() || root.SOID().OID != RootOID {
		t.Errorf("root path = %+v", root)
	}
	if !root.Parent().IsEmpty() {
		t.Error("Parent() of root is not root")
	}
}

func TestResolvedPath_JoinDoesNotAlias(t *testing.T) {
	base := testPath("a")
	x := base.Join(SOID{Sidx: 1, OID: "x"}, "x")
	y := base.Join(SOID{Sidx: 1, OID: "y"}, "y")

	if x.String() != "a/x" || y.String() != "a/y" {
		t.Errorf("Join() aliasing: x=%q y=%q", x, y)
	}
}

func TestResolvedPath_StoreRoot(t *testing.T) {
	p := NewRootPath(RootSIndex).
		Join(SOID{Sidx: 1, OID: "anchor"}, "shared").
		Join(SOID{Sidx: 2, OID: "doc"}, "doc")

	if got := p.StoreRoot(2).String(); got != "shared" {
		t.Errorf("StoreRoot(2) = %q, want shared", got)
	}
}

func TestSplitPath(t *testing.T) {
	tests := map[string][]string{
		"":          nil,
		"/":         nil,
		"foo":       {"foo"},
		"/foo//bar": {"foo", "bar"},
		"foo/../x":  {"x"},
	}
	for in, want := range tests {
		if got := SplitPath(in); !reflect.DeepEqual(got, want) {
			t.Errorf("SplitPath(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseSOID(t *testing.T) {
	soid := SOID{Sidx: 4, OID: "abc"}
	got, err := ParseSOID(soid.String())
	if err != nil {
		t.Fatalf("ParseSOID() error = %v", err)
	}
	if got != soid {
		t.Errorf("ParseSOID() = %v, want %v", got, soid)
	}
	if _, err := ParseSOID("nope"); err == nil {
		t.Error("ParseSOID() expected error")
	}
}
