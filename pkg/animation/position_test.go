package animation

import (
	"encoding/json"
	"errors"
	"testing"
)

func full(v float64) Position {
	var p Position
	for _, s := range Servos() {
		p = p.With(s, v+float64(s))
	}
	return p
}

func TestInterpolateIdentity(t *testing.T) {
	p := full(10.123)
	for _, f := range []float64{0, 0.25, 0.5, 0.999, 1} {
		if got := Interpolate(p, p, f); !got.Equal(p) {
			t.Errorf("Interpolate(p, p, %v) = %v, want %v", f, got, p)
		}
	}
}

func TestInterpolateEndpoints(t *testing.T) {
	p1 := full(0)
	p2 := full(50)

	if got := Interpolate(p1, p2, 0); !got.Equal(p1) {
		t.Errorf("f=0: got %v, want %v", got, p1)
	}
	if got := Interpolate(p1, p2, 1); !got.Equal(p2) {
		t.Errorf("f=1: got %v, want %v", got, p2)
	}

	// Fraction is clamped
	if got := Interpolate(p1, p2, -3); !got.Equal(p1) {
		t.Errorf("f=-3: got %v, want %v", got, p1)
	}
	if got := Interpolate(p1, p2, 7); !got.Equal(p2) {
		t.Errorf("f=7: got %v, want %v", got, p2)
	}
}

func TestInterpolateMidpoint(t *testing.T) {
	p1 := Null().With(Jaw, 0).With(EyeX, 10)
	p2 := Null().With(Jaw, 1).With(EyeY, 40)

	got := Interpolate(p1, p2, 1.0/3)

	if v, ok := got.Get(Jaw).Float(); !ok || v != 0.33 {
		t.Errorf("jaw = %v, want 0.33", got.Get(Jaw))
	}
	// Unspecified on either side stays unspecified
	if got.Get(EyeX).Specified() {
		t.Error("eye-x should be unspecified")
	}
	if got.Get(EyeY).Specified() {
		t.Error("eye-y should be unspecified")
	}
}

func TestFillWith(t *testing.T) {
	a := Null().With(Jaw, 1)
	b := Null().With(Jaw, 2).With(Eyelids, 3)

	got := a.FillWith(b)
	if v, _ := got.Get(Jaw).Float(); v != 1 {
		t.Errorf("jaw = %v, want 1 (self wins)", v)
	}
	if v, _ := got.Get(Eyelids).Float(); v != 3 {
		t.Errorf("eyelids = %v, want 3", v)
	}

	if !got.FillWith(b).Equal(got) {
		t.Error("FillWith should be idempotent")
	}
	if !Null().FillWith(a).Equal(a) || !a.FillWith(Null()).Equal(a) {
		t.Error("Null should be the identity for FillWith")
	}
}

func TestFilter(t *testing.T) {
	p := full(1)
	got := p.Filter(HeadServos)

	if got.Specified() != HeadServos {
		t.Errorf("specified = %v, want %v", got.Specified(), HeadServos)
	}
	if !p.Filter(All()).Equal(p) {
		t.Error("Filter(All) should be a no-op")
	}
}

func TestMapUnmap(t *testing.T) {
	ranges := Ranges{
		NeckY: {Min: 500, Max: 2500},
		Jaw:   {Min: 80, Max: 40},
	}

	tests := []struct {
		servo Servo
		raw   float64
		want  float64
	}{
		{NeckY, 0, 500},
		{NeckY, 50, 1500},
		{NeckY, 100, 2500},
		{NeckY, 150, 2500}, // clamped
		{NeckY, -10, 500},  // clamped
		{Jaw, 25, 70},      // inverted range
	}

	for _, tt := range tests {
		got, err := ranges.Map(tt.servo, tt.raw)
		if err != nil {
			t.Fatalf("Map(%s, %v) failed: %v", tt.servo, tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("Map(%s, %v) = %v, want %v", tt.servo, tt.raw, got, tt.want)
		}
	}

	raw, err := ranges.Unmap(NeckY, 1000)
	if err != nil || raw != 25 {
		t.Errorf("Unmap(neck-y, 1000) = %v, %v; want 25", raw, err)
	}

	if _, err := ranges.Map(EyeX, 10); !errors.Is(err, ErrUnmapped) {
		t.Errorf("Map without range: got %v, want ErrUnmapped", err)
	}
}

func TestNewPositionMapsOnce(t *testing.T) {
	ranges := Ranges{Jaw: {Min: 0, Max: 200}}

	var raw Values
	raw[Jaw] = Num(50)

	p, err := NewPosition(raw, ranges)
	if err != nil {
		t.Fatalf("NewPosition failed: %v", err)
	}
	if v, _ := p.Get(Jaw).Float(); v != 100 {
		t.Errorf("jaw = %v, want 100", v)
	}

	back, err := p.Unmap(ranges)
	if err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if v, _ := back[Jaw].Float(); v != 50 {
		t.Errorf("unmapped jaw = %v, want 50", v)
	}
}

func TestParseValues(t *testing.T) {
	vals, err := ParseValues([]byte(`{"jaw": 10, "eye-x": null, "neck-y": 55.5}`))
	if err != nil {
		t.Fatalf("ParseValues failed: %v", err)
	}
	if v, _ := vals[Jaw].Float(); v != 10 {
		t.Errorf("jaw = %v, want 10", v)
	}
	if vals[EyeX].Specified() {
		t.Error("eye-x should be unspecified")
	}
	if vals.Specified() != NewSet(Jaw, NeckY) {
		t.Errorf("specified = %v", vals.Specified())
	}

	bad := []string{
		`{"tail": 10}`,
		`{"jaw": "open"}`,
		`[1, 2, 3]`,
	}
	for _, in := range bad {
		if _, err := ParseValues([]byte(in)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseValues(%s): got %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestPositionWireForm(t *testing.T) {
	p := Null().With(LeftShoulderX, 1.5).With(Jaw, 2)

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `[1.5,null,null,null,null,null,null,null,null,null,null,2]`
	if string(data) != want {
		t.Errorf("wire form = %s, want %s", data, want)
	}

	var decoded Position
	if err := json.Unmarshal([]byte(`[1.5, null, null]`), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Specified() != NewSet(LeftShoulderX) {
		t.Errorf("short array should leave trailing channels unspecified, got %v", decoded)
	}

	tooLong := make([]*float64, NumServos+1)
	if _, err := PositionFromArray(tooLong); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("oversized array: got %v, want ErrInvalidInput", err)
	}
}
