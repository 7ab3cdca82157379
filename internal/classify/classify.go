// Package classify maps a category display name to the attribute codes its
// parsed size/mark/length columns should be stored under. The table below is
// a closed policy artifact: adding a newly scraped category means extending
// it, and the tests pin every mapping literally.
package classify

import "github.com/baikov/metalsync/internal/domain"

// Codes are the attribute codes for one category. An empty Mark means the
// category stores no mark attribute at all.
type Codes struct {
	Size   string
	Mark   string
	Length string
}

// rule maps a set of category names to overrides for one or more axes. An
// empty override leaves the axis at its default; markNone suppresses the
// mark attribute entirely.
type rule struct {
	names    []string
	size     string
	mark     string
	markNone bool
	length   string
}

// Defaults when no rule matches an axis.
var defaults = Codes{
	Size:   domain.CodeDiameter,
	Mark:   domain.CodeSteelGrade,
	Length: domain.CodeLength,
}

// Rules are evaluated top to bottom, first match per axis wins.
var rules = []rule{
	{
		// Checkered sheet is the one sheet whose mark column holds a length.
		names:  []string{"Лист рифленый"},
		size:   domain.CodeHeight,
		mark:   domain.CodeLength,
		length: domain.CodeSurface,
	},
	{
		names: []string{
			"Балки (Двутавр)",
			"Балки (Двутавр) низколегированные",
			"Швеллер",
			"Швеллер гнутый",
			"Швеллер низколегированный",
			"Уголок неравнополочный",
			"Уголок нержавеющий никельсодержащий",
			"Уголок равнополочный",
			"Уголок равнополочный низколегированный",
			"Уголок равнополочный судостроительный",
		},
		size: domain.CodeHeight,
	},
	{
		names: []string{
			"Лист г/к",
			"Лист г/к конструкционный",
			"Лист г/к мостостроительный",
			"Лист г/к низколегированный",
			"Лист г/к Ст3",
			"Лист г/к судостроительный",
			"Лист нержавеющий без никеля",
			"Лист нержавеющий никельсодержащий",
			"Лист нержавеющий ПВЛ",
			"Лист оцинкованный",
			"Лист холоднокатанный х/к",
			"Лист холоднокатанный х/к Ст",
			"Лист просечно-вытяжной (ПВЛ)",
		},
		size:   domain.CodeHeight,
		length: domain.CodeSurface,
	},
	{
		names: []string{
			"Полоса оцинкованная",
			"Квадрат  горячекатаный",
			"Полоса г/к",
			"Полоса г/к оцинкованная",
			"Полоса нержавеющая никельсодержащая",
		},
		size: domain.CodeWidth,
	},
	{
		names: []string{
			"Рулоны г/к",
			"Рулоны нержавеющие",
			"Рулоны оцинкованные",
			"Рулоны оцинкованные с полимерным покрытием",
			"Рулоны х/к",
		},
		mark: domain.CodeWidth,
	},
	{
		names: []string{
			"Трубы стальные горячедеформированные",
			"Трубы стальные холоднодеформированные",
		},
		mark: domain.CodeWallThickness,
	},
	{
		names: []string{
			"Трубы оцинкованные квадратные",
			"Трубы оцинкованные круглые",
			"Трубы оцинкованные прямоугольные",
			"Доборные элементы",
			"Саморезы кровельные",
		},
		markNone: true,
	},
	{
		names: []string{
			"Профнастил Н114",
			"Профнастил Н57",
			"Профнастил Н60",
			"Профнастил Н75",
			"Профнастил НС35",
			"Профнастил НС44",
			"Профнастил окрашенный",
			"Профнастил оцинкованный",
			"Профнастил С10",
			"Профнастил С20",
			"Профнастил С21",
			"Профнастил С44",
			"Профнастил С8",
		},
		mark: domain.CodeProfile,
	},
}

// Classify resolves the attribute codes for a category display name. Names
// without a rule fall through to diametr / marka-stali / dlina.
func Classify(categoryName string) Codes {
	codes := defaults
	sizeSet, markSet, lengthSet := false, false, false

	for _, r := range rules {
		if !r.matches(categoryName) {
			continue
		}
		if !sizeSet && r.size != "" {
			codes.Size = r.size
			sizeSet = true
		}
		if !markSet && (r.mark != "" || r.markNone) {
			codes.Mark = r.mark
			markSet = true
		}
		if !lengthSet && r.length != "" {
			codes.Length = r.length
			lengthSet = true
		}
	}

	return codes
}

func (r rule) matches(name string) bool {
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}
