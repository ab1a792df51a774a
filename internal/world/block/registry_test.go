package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Defaults(t *testing.T) {
	assert.True(t, IsValid(Air))
	assert.False(t, IsSolid(Air))
	assert.True(t, IsSolid(Stone))
	assert.Equal(t, uint8(MaxLight), EmittedLight(Glowstone))
	assert.Equal(t, uint8(14), EmittedLight(Torch))
	assert.Equal(t, uint8(0), EmittedLight(Dirt))
	assert.Equal(t, "grass", Grass.String())
}

func TestRegistry_UnknownType(t *testing.T) {
	unknown := Type(200)
	assert.False(t, IsValid(unknown))
	assert.Equal(t, uint8(0), EmittedLight(unknown))
	assert.Equal(t, "block#200", unknown.String())
}

func TestRegister_ClampsLight(t *testing.T) {
	custom := Type(201)
	Register(custom, Properties{Name: "lava", Solid: false, EmittedLight: 40})

	props, ok := Get(custom)
	assert.True(t, ok)
	assert.Equal(t, uint8(MaxLight), props.EmittedLight)
}
