package aqi

// Category is one of the six health bands of the index
type Category int

const (
	Good Category = iota
	Moderate
	UnhealthySensitive
	Unhealthy
	VeryUnhealthy
	Hazardous
)

type band struct {
	category       Category
	upper          int // inclusive; the last band is open-ended
	name           string
	label          string
	color          string
	recommendation string
}

var bands = []band{
	{Good, 50, "Good", "Buena", "#00E400",
		"La calidad del aire es satisfactoria. El aire no presenta riesgo."},
	{Moderate, 100, "Moderate", "Moderada", "#FFFF00",
		"La calidad del aire es aceptable para la mayoría. Los grupos sensibles pueden experimentar síntomas menores."},
	{UnhealthySensitive, 150, "Unhealthy for Sensitive Groups", "Insalubre para grupos sensibles", "#FF7E00",
		"Los grupos sensibles pueden experimentar síntomas de salud. El público general no se ve afectado."},
	{Unhealthy, 200, "Unhealthy", "Insalubre", "#FF0000",
		"Todos pueden experimentar síntomas de salud. Los grupos sensibles pueden experimentar efectos más graves."},
	{VeryUnhealthy, 300, "Very Unhealthy", "Muy insalubre", "#8F3F97",
		"Advertencia de salud: todos pueden experimentar efectos graves en la salud."},
	{Hazardous, -1, "Hazardous", "Peligrosa", "#7E0023",
		"Alerta de salud: condiciones de emergencia. Toda la población puede verse afectada."},
}

// CategoryFor maps an index to its band. Negative indices fall in Good.
func CategoryFor(index int) Category {
	for _, b := range bands[:len(bands)-1] {
		if index <= b.upper {
			return b.category
		}
	}
	return Hazardous
}

func (c Category) band() band {
	if c < Good || c > Hazardous {
		return bands[Hazardous]
	}
	return bands[c]
}

func (c Category) String() string { return c.band().name }

// Label returns the Spanish display label
func (c Category) Label() string { return c.band().label }

// Color returns the hex colour of the band
func (c Category) Color() string { return c.band().color }

// Recommendation returns the health guidance for the band
func (c Category) Recommendation() string { return c.band().recommendation }

// ParseCategoryLabel resolves a stored display label back to a Category
func ParseCategoryLabel(label string) (Category, bool) {
	for _, b := range bands {
		if b.label == label {
			return b.category, true
		}
	}
	return Good, false
}
