package world

import "strings"

// Flags: битовая маска состояния чанка
type Flags uint32

const (
	// FlagEmpty: в чанке нет ни одного блока, кроме воздуха
	FlagEmpty Flags = 1 << iota
	// FlagNeedsRebuild: меш чанка устарел
	FlagNeedsRebuild
	// FlagNeedsSave: состояние в памяти расходится с хранилищем
	FlagNeedsSave
	// FlagInUse: чанк используется владельцем и не может быть выгружен
	FlagInUse
	// FlagMarkedForUnload: чанк поставлен в очередь на выгрузку
	FlagMarkedForUnload
	// FlagDisposed: ресурсы чанка освобождены
	FlagDisposed
)

// PersistentFlags: флаги, которые попадают в файл чанка.
const PersistentFlags = FlagEmpty | FlagNeedsRebuild

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagEmpty, "EMPTY"},
	{FlagNeedsRebuild, "NEEDS_REBUILD"},
	{FlagNeedsSave, "NEEDS_SAVE"},
	{FlagInUse, "IN_USE"},
	{FlagMarkedForUnload, "MARKED_FOR_UNLOAD"},
	{FlagDisposed, "DISPOSED"},
}

// Has сообщает, что установлены все биты mask
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Names возвращает имена установленных флагов
func (f Flags) Names() []string {
	names := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	return strings.Join(f.Names(), "|")
}
