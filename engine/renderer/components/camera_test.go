package components

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestCameraViewTranslation(t *testing.T) {
	c := NewCamera()
	assert.Equal(t, mgl32.Ident4(), c.View())

	c.SetPosition(mgl32.Vec3{0, 0, 2})
	origin := c.View().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, -2, origin[2], 1e-5)
}

func TestCameraMovement(t *testing.T) {
	c := NewCamera()
	c.MoveForward(1)
	assert.True(t, c.Position().ApproxEqual(mgl32.Vec3{0, 0, -1}))

	c.Reset()
	c.Yaw(mgl32.DegToRad(90))
	assert.True(t, c.Forward().ApproxEqualThreshold(mgl32.Vec3{-1, 0, 0}, 1e-5))
	c.MoveRight(2)
	assert.True(t, c.Position().ApproxEqualThreshold(mgl32.Vec3{0, 0, -2}, 1e-5))

	c.MoveUp(1)
	c.MoveDown(0.5)
	assert.InDelta(t, 0.5, c.Position()[1], 1e-6)
}

func TestCameraPitchClamp(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.Equal(t, pitchLimit, c.Rotation()[0])
	c.SetRotation(mgl32.Vec3{-10, 0, 0})
	assert.Equal(t, -pitchLimit, c.Rotation()[0])
}
