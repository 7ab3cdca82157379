package domain

// Well-known attribute codes written by the reconciler and read by the
// pricing engine. The full set lives in the attributes table; these are the
// ones the sync engine itself cares about.
const (
	CodeHeight        = "vysota-h"
	CodeWidth         = "shirina-b"
	CodeDiameter      = "diametr"
	CodeLength        = "dlina"
	CodeWallThickness = "stenka"
	CodeProfile       = "profil"
	CodeSteelGrade    = "marka-stali"
	CodeSurface       = "poverkhnost"
	CodeMeterWeight   = "ves-metra"
	CodeUnitWeight    = "ves-shtuki"
)

// Attribute is a named product property, identified by a stable code slug.
// Values live in the attribute_values table, one row per (product, attribute)
// pair; re-parsing overwrites, never duplicates.
type Attribute struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	Ordering      int    `json:"ordering"`
	DisplayInList bool   `json:"display_in_list"`
}
