// Package pricing recomputes derived product prices from the parsed ton
// price and the weight/length attributes. The computation is an explicit
// function call made by the reconciler right after it writes any of the
// inputs, so ordering and idempotence stay auditable.
package pricing

import (
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Inputs are everything the recalculation depends on. TonPrice is the
// effective ton price (domain.Product.EffectiveTonPrice resolves the manual
// override). MeterWeight and Length are the raw attribute value texts; empty
// means the attribute is absent.
type Inputs struct {
	TonPrice    float64
	MeterWeight string
	Length      string
}

// Prices are the recomputed outputs. A zero value means the corresponding
// input was absent or unparsable and the stored price should not change.
type Prices struct {
	MeterPrice float64
	UnitPrice  float64
}

// Recompute derives meter and unit prices. Pure: the same inputs always
// produce the same outputs. Unparsable attribute values are logged and
// swallowed, leaving the affected output at zero.
func Recompute(in Inputs) Prices {
	var out Prices

	if in.TonPrice == 0 || in.MeterWeight == "" {
		return out
	}

	weight, err := ParseDecimal(in.MeterWeight)
	if err != nil {
		log.Infof("Meter weight %q is not a number, prices not recalculated", in.MeterWeight)
		return out
	}

	out.MeterPrice = math.Ceil(in.TonPrice / 1000 * weight)

	if in.Length == "" {
		return out
	}
	length, err := ParseLength(in.Length)
	if err != nil {
		log.Infof("Length %q is not a number, unit price not recalculated", in.Length)
		return out
	}

	out.UnitPrice = math.Ceil(out.MeterPrice * length / 1000)
	return out
}

// ParseDecimal parses a decimal that may use a comma as the separator.
func ParseDecimal(value string) (float64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", ".")
	return strconv.ParseFloat(value, 64)
}

// ParseLength parses a length attribute value. Range values like "6-12" use
// the leading numeric token.
func ParseLength(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if idx := strings.Index(value, "-"); idx > 0 {
		value = value[:idx]
	}
	return ParseDecimal(value)
}
