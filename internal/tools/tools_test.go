package tools

import (
	"sync"
	"testing"
)

func TestContext_PutGetLookup(t *testing.T) {
	t.Parallel()
	tc := NewContext("north-east", 0, 0)

	if _, ok := tc.Get("flood-data"); ok {
		t.Fatal("empty context returned a result")
	}
	tc.Put("flood-data", []string{"a", "b"})

	got, ok := Lookup[[]string](tc, "flood-data")
	if !ok || len(got) != 2 {
		t.Fatalf("Lookup = %v, %v", got, ok)
	}
	if _, ok := Lookup[int](tc, "flood-data"); ok {
		t.Error("Lookup with wrong type succeeded")
	}
}

func TestContext_RecordTracksDegraded(t *testing.T) {
	t.Parallel()
	tc := NewContext("north-east", 0, 0)

	tc.Record("river-levels", Partial([]string{}))
	tc.Record("flood-data", Partial([]string{}))
	tc.Record("highways-incidents", OK([]string{"i1"}))
	if got := tc.Degraded(); len(got) != 2 || got[0] != "flood-data" || got[1] != "river-levels" {
		t.Fatalf("degraded = %v, want [flood-data river-levels]", got)
	}

	tc.Record("flood-data", OK([]string{"w1"}))
	if got := tc.Degraded(); len(got) != 1 || got[0] != "river-levels" {
		t.Errorf("degraded after recovery = %v, want [river-levels]", got)
	}
	if v, _ := tc.Get("flood-data"); len(v.([]string)) != 1 {
		t.Errorf("flood-data = %v", v)
	}
}

func TestContext_ResultsIsCopy(t *testing.T) {
	t.Parallel()
	tc := NewContext("", 0, 0)
	tc.Put("a", 1)
	snap := tc.Results()
	snap["b"] = 2
	if _, ok := tc.Get("b"); ok {
		t.Error("mutating Results leaked into context")
	}
}

func TestContext_Center(t *testing.T) {
	t.Parallel()
	if _, _, ok := NewContext("", 0, 0).Center(); ok {
		t.Error("zero centre reported as set")
	}
	lat, lon, ok := NewContext("", 51.5, -0.1).Center()
	if !ok || lat != 51.5 || lon != -0.1 {
		t.Errorf("Center = %v, %v, %v", lat, lon, ok)
	}
	var nilCtx *Context
	if _, _, ok := nilCtx.Center(); ok {
		t.Error("nil context reported a centre")
	}
}

func TestContext_ConcurrentPut(t *testing.T) {
	t.Parallel()
	tc := NewContext("", 0, 0)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc.Put(string(rune('a'+i)), i)
		}()
	}
	wg.Wait()
	if got := len(tc.Results()); got != 16 {
		t.Errorf("results = %d, want 16", got)
	}
}

func TestParseArgs_NormalizesKeys(t *testing.T) {
	t.Parallel()
	a, err := ParseArgs(`{"radius-km": 10, "latitude": 52}`)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if v, ok := a.Float(ArgRadiusKm); !ok || v != 10 {
		t.Errorf("radius_km = %v, %v", v, ok)
	}
	if v, ok := a.Float(ArgLatitude); !ok || v != 52 {
		t.Errorf("latitude = %v, %v", v, ok)
	}
	if _, ok := a.Float(ArgLongitude); ok {
		t.Error("absent longitude reported present")
	}
}

func TestParseArgs_RejectsNonObject(t *testing.T) {
	t.Parallel()
	if _, err := ParseArgs(`[1,2]`); err == nil {
		t.Error("expected error for array arguments")
	}
}

func TestResolveLocation_Precedence(t *testing.T) {
	t.Parallel()
	def := Location{Latitude: 1, Longitude: 2, RadiusKm: 3}

	if got := ResolveLocation(Args{}, nil, def); got != def {
		t.Errorf("no args, no centre = %+v, want %+v", got, def)
	}
	tc := NewContext("", 10, 20)
	if got := ResolveLocation(Args{}, tc, def); got != (Location{Latitude: 10, Longitude: 20, RadiusKm: 3}) {
		t.Errorf("centre = %+v", got)
	}
	args := Args{ArgLatitude: 50.0, ArgRadiusKm: 7.0}
	if got := ResolveLocation(args, tc, def); got != (Location{Latitude: 50, Longitude: 20, RadiusKm: 7}) {
		t.Errorf("explicit = %+v", got)
	}
}

func TestHolder_Swap(t *testing.T) {
	t.Parallel()
	a, _ := NewRegistry(nil, nil)
	b, _ := NewRegistry(nil, nil)
	h := NewHolder(a)

	held := h.Load()
	if old := h.Swap(b); old != a {
		t.Error("Swap did not return the previous registry")
	}
	if h.Load() != b {
		t.Error("Load did not return the new registry")
	}
	if held != a {
		t.Error("previously loaded registry changed")
	}
}
