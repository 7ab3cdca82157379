package pricing

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRecompute_MeterAndUnitPrice(t *testing.T) {
	prices := Recompute(Inputs{
		TonPrice:    60_000_000,
		MeterWeight: "12,5",
		Length:      "6",
	})

	if prices.MeterPrice != 750_000 {
		t.Errorf("meter price = %v, want 750000", prices.MeterPrice)
	}
	if prices.UnitPrice != 4_500 {
		t.Errorf("unit price = %v, want 4500", prices.UnitPrice)
	}
}

func TestRecompute_RangeLengthUsesLeadingToken(t *testing.T) {
	prices := Recompute(Inputs{
		TonPrice:    60_000_000,
		MeterWeight: "12,5",
		Length:      "6-12",
	})

	// "6-12" must price as length 6, not 12.
	if prices.UnitPrice != 4_500 {
		t.Errorf("unit price = %v, want 4500", prices.UnitPrice)
	}
}

func TestRecompute_MissingInputsShortCircuit(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
	}{
		{"zero ton price", Inputs{TonPrice: 0, MeterWeight: "12,5", Length: "6"}},
		{"no meter weight", Inputs{TonPrice: 60_000_000}},
		{"unparsable meter weight", Inputs{TonPrice: 60_000_000, MeterWeight: "н/д", Length: "6"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prices := Recompute(tc.in)
			if prices.MeterPrice != 0 || prices.UnitPrice != 0 {
				t.Errorf("prices = %+v, want zeroes", prices)
			}
		})
	}
}

func TestRecompute_UnparsableLengthKeepsMeterPrice(t *testing.T) {
	prices := Recompute(Inputs{
		TonPrice:    60_000_000,
		MeterWeight: "12,5",
		Length:      "мерная",
	})

	if prices.MeterPrice != 750_000 {
		t.Errorf("meter price = %v, want 750000", prices.MeterPrice)
	}
	if prices.UnitPrice != 0 {
		t.Errorf("unit price = %v, want 0 for unparsable length", prices.UnitPrice)
	}
}

func TestParseLength(t *testing.T) {
	cases := []struct {
		value string
		want  float64
	}{
		{"6", 6},
		{"6-12", 6},
		{"11,7", 11.7},
		{"11,7-12", 11.7},
	}
	for _, tc := range cases {
		got, err := ParseLength(tc.value)
		if err != nil {
			t.Fatalf("ParseLength(%q): %v", tc.value, err)
		}
		if got != tc.want {
			t.Errorf("ParseLength(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestProperty_RecomputeIsIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("same inputs always yield the same outputs", prop.ForAll(
		func(ton float64, weight float64, length float64) bool {
			in := Inputs{
				TonPrice:    ton,
				MeterWeight: formatFloat(weight),
				Length:      formatFloat(length),
			}
			first := Recompute(in)
			second := Recompute(in)
			return first == second
		},
		gen.Float64Range(0, 1e9),
		gen.Float64Range(0, 1e4),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
