package components

import (
	"github.com/go-gl/mathgl/mgl32"
)

// pitchLimit keeps the camera away from the poles, 89 degrees.
const pitchLimit = float32(1.55334306)

// Camera is a free-look camera. The view matrix is rebuilt lazily after the
// position or rotation changed.
type Camera struct {
	position mgl32.Vec3
	// pitch, yaw and roll in radians
	rotation mgl32.Vec3
	dirty    bool
	view     mgl32.Mat4
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.position = mgl32.Vec3{}
	c.rotation = mgl32.Vec3{}
	c.dirty = false
	c.view = mgl32.Ident4()
}

func (c *Camera) Position() mgl32.Vec3 { return c.position }

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.position = position
	c.dirty = true
}

func (c *Camera) Rotation() mgl32.Vec3 { return c.rotation }

func (c *Camera) SetRotation(rotation mgl32.Vec3) {
	c.rotation = rotation
	c.rotation[0] = mgl32.Clamp(c.rotation[0], -pitchLimit, pitchLimit)
	c.dirty = true
}

// View returns the world to view transform.
func (c *Camera) View() mgl32.Mat4 {
	if c.dirty {
		rotation := mgl32.AnglesToQuat(c.rotation[0], c.rotation[1], c.rotation[2], mgl32.XYZ).Mat4()
		world := mgl32.Translate3D(c.position[0], c.position[1], c.position[2]).Mul4(rotation)
		c.view = world.Inv()
		c.dirty = false
	}
	return c.view
}

// Forward points down the view direction, -Z in camera space.
func (c *Camera) Forward() mgl32.Vec3 {
	return c.axis(mgl32.Vec3{0, 0, -1})
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.axis(mgl32.Vec3{1, 0, 0})
}

func (c *Camera) axis(local mgl32.Vec3) mgl32.Vec3 {
	rotation := mgl32.AnglesToQuat(c.rotation[0], c.rotation[1], c.rotation[2], mgl32.XYZ)
	return rotation.Rotate(local).Normalize()
}

func (c *Camera) MoveForward(amount float32) { c.move(c.Forward().Mul(amount)) }

func (c *Camera) MoveBackward(amount float32) { c.move(c.Forward().Mul(-amount)) }

func (c *Camera) MoveRight(amount float32) { c.move(c.Right().Mul(amount)) }

func (c *Camera) MoveLeft(amount float32) { c.move(c.Right().Mul(-amount)) }

func (c *Camera) MoveUp(amount float32) { c.move(mgl32.Vec3{0, amount, 0}) }

func (c *Camera) MoveDown(amount float32) { c.move(mgl32.Vec3{0, -amount, 0}) }

func (c *Camera) move(delta mgl32.Vec3) {
	c.position = c.position.Add(delta)
	c.dirty = true
}

func (c *Camera) Yaw(amount float32) {
	c.rotation[1] += amount
	c.dirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.rotation[0] = mgl32.Clamp(c.rotation[0]+amount, -pitchLimit, pitchLimit)
	c.dirty = true
}
