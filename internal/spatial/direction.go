package spatial

// Direction: одна из шести граней куба.
type Direction uint8

const (
	Left   Direction = iota // -X
	Right                   // +X
	Bottom                  // -Y
	Top                     // +Y
	Back                    // -Z
	Front                   // +Z

	DirectionCount // всегда последний
)

// Directions перечисляет все шесть направлений в порядке объявления.
var Directions = [DirectionCount]Direction{Left, Right, Bottom, Top, Back, Front}

// Axis возвращает номер оси: 0=X, 1=Y, 2=Z.
func (d Direction) Axis() int {
	return int(d / 2)
}

// Sign возвращает -1 для отрицательных направлений и +1 для положительных.
func (d Direction) Sign() int {
	if d%2 == 0 {
		return -1
	}
	return 1
}

// Offset возвращает единичное смещение вдоль направления.
func (d Direction) Offset() (dx, dy, dz int) {
	switch d.Axis() {
	case 0:
		return d.Sign(), 0, 0
	case 1:
		return 0, d.Sign(), 0
	default:
		return 0, 0, d.Sign()
	}
}

// Opposite возвращает противоположное направление.
func (d Direction) Opposite() Direction {
	return d ^ 1
}

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Bottom:
		return "bottom"
	case Top:
		return "top"
	case Back:
		return "back"
	case Front:
		return "front"
	default:
		return "unknown"
	}
}
