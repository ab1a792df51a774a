package block

import (
	"fmt"
	"sync"
)

// Type представляет код типа блока. Хранится в чанке плотным массивом.
type Type uint8

// Константы типов блоков
const (
	Air       Type = iota // 0, пустота
	Stone                 // 1
	Dirt                  // 2
	Grass                 // 3
	Sand                  // 4
	Water                 // 5
	Wood                  // 6
	Leaves                // 7
	Glowstone             // 8, светится
	Torch                 // 9, светится
)

// MaxLight: максимальный уровень освещённости блока.
const MaxLight = 15

// Properties описывает свойства типа блока
type Properties struct {
	Name         string
	Solid        bool  // Блок непроходим
	EmittedLight uint8 // Собственное свечение 0..15
}

var (
	registry   = make(map[Type]Properties)
	registryMu sync.RWMutex
)

func init() {
	Register(Air, Properties{Name: "air"})
	Register(Stone, Properties{Name: "stone", Solid: true})
	Register(Dirt, Properties{Name: "dirt", Solid: true})
	Register(Grass, Properties{Name: "grass", Solid: true})
	Register(Sand, Properties{Name: "sand", Solid: true})
	Register(Water, Properties{Name: "water"})
	Register(Wood, Properties{Name: "wood", Solid: true})
	Register(Leaves, Properties{Name: "leaves", Solid: true})
	Register(Glowstone, Properties{Name: "glowstone", Solid: true, EmittedLight: MaxLight})
	Register(Torch, Properties{Name: "torch", EmittedLight: 14})
}

// Register добавляет тип блока в регистр
func Register(t Type, props Properties) {
	if props.EmittedLight > MaxLight {
		props.EmittedLight = MaxLight
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = props
}

// Get возвращает свойства для указанного типа
func Get(t Type) (Properties, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	props, exists := registry[t]
	return props, exists
}

// IsValid проверяет, зарегистрирован ли тип
func IsValid(t Type) bool {
	_, exists := Get(t)
	return exists
}

// EmittedLight возвращает свечение типа блока (0 для неизвестных типов)
func EmittedLight(t Type) uint8 {
	props, _ := Get(t)
	return props.EmittedLight
}

// IsSolid сообщает, является ли тип непроходимым
func IsSolid(t Type) bool {
	props, _ := Get(t)
	return props.Solid
}

func (t Type) String() string {
	if props, ok := Get(t); ok {
		return props.Name
	}
	return fmt.Sprintf("block#%d", uint8(t))
}
