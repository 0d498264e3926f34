package gfx

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
	"github.com/spaghettifunk/benzin/engine/renderer/software"
)

func TestTransitionTracksState(t *testing.T) {
	ctx, gpu := newTestContext(t, software.DefaultOptions(), testConfig())

	tex, err := ctx.Device.CreateTexture(TextureConfig{Name: "t", Width: 4, Height: 4, Format: driver.FormatRGBA8Unorm}, nil)
	require.NoError(t, err)
	defer tex.Release()

	cl, err := ctx.NewCommandList(driver.QueueDirect, "transitions")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))

	cl.Transition(tex, driver.StateCopyDest)
	assert.Equal(t, driver.StateCopyDest, cl.StateOf(tex))
	cl.Transition(tex, driver.StateCopyDest)
	cl.Transition(tex, driver.StatePixelShaderResource)
	assert.Equal(t, driver.StatePixelShaderResource, cl.StateOf(tex))
	assert.Equal(t, driver.StateCommon, tex.State(), "recorded transitions apply on submission")

	_, err = cl.ExecuteCommandList(true)
	require.NoError(t, err)
	assert.Equal(t, driver.StatePixelShaderResource, tex.State())
	assert.Equal(t, uint64(2), gpu.Stats().Barriers, "a transition to the current state records nothing")
	assert.Empty(t, gpu.ValidationErrors())
	assert.Zero(t, cl.BarrierMismatches())
}

func TestSetResourceBarrierMismatch(t *testing.T) {
	ctx, gpu := newTestContext(t, software.DefaultOptions(), testConfig())

	tex, err := ctx.Device.CreateTexture(TextureConfig{Name: "t", Width: 4, Height: 4, Format: driver.FormatRGBA8Unorm}, nil)
	require.NoError(t, err)
	defer tex.Release()

	cl, err := ctx.NewCommandList(driver.QueueDirect, "explicit")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))

	cl.SetResourceBarrier(tex, driver.StateCommon, driver.StateCopyDest)
	assert.Zero(t, cl.BarrierMismatches())
	cl.SetResourceBarrier(tex, driver.StateRenderTarget, driver.StateCopySource)
	assert.Equal(t, 1, cl.BarrierMismatches())
	assert.Equal(t, driver.StateCopySource, cl.StateOf(tex), "the tracked state follows the explicit barrier")

	_, err = cl.ExecuteCommandList(true)
	require.NoError(t, err)
	assert.Equal(t, driver.StateCopySource, tex.State())
	assert.NotEmpty(t, gpu.ValidationErrors(), "the device sees the wrong before state too")
}

func TestDiscardedListKeepsCommittedState(t *testing.T) {
	ctx, gpu := newTestContext(t, software.DefaultOptions(), testConfig())

	tex, err := ctx.Device.CreateTexture(TextureConfig{Name: "t", Width: 4, Height: 4, Format: driver.FormatRGBA8Unorm}, nil)
	require.NoError(t, err)
	defer tex.Release()

	errAbort := errors.New("abort")
	err = ctx.Immediate("aborted", func(cl *CommandList) error {
		cl.Transition(tex, driver.StateCopyDest)
		return errAbort
	})
	assert.True(t, errors.Is(err, errAbort))
	assert.Equal(t, driver.StateCommon, tex.State())

	// a list that fails on Close is dropped as well
	stale, err := ctx.Device.CreateBuffer(BufferConfig{Name: "stale", ElementSize: 4, ElementCount: 4}, BufferFlagNone)
	require.NoError(t, err)
	stale.Release()
	err = ctx.Immediate("failed-close", func(cl *CommandList) error {
		cl.Transition(tex, driver.StateRenderTarget)
		cl.Transition(stale, driver.StateCopyDest)
		return nil
	})
	assert.True(t, errors.Is(err, core.ErrResourceReleased))
	assert.Equal(t, driver.StateCommon, tex.State())

	cl, err := ctx.NewCommandList(driver.QueueDirect, "reset")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))
	cl.Transition(tex, driver.StateCopySource)
	require.NoError(t, cl.Close())
	require.NoError(t, cl.Reset(nil))
	assert.Equal(t, driver.StateCommon, cl.StateOf(tex), "reset drops the unsubmitted transitions")
	require.NoError(t, cl.Close())
	assert.Equal(t, driver.StateCommon, tex.State())

	err = ctx.Immediate("sample", func(cl *CommandList) error {
		cl.Transition(tex, driver.StatePixelShaderResource)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, driver.StatePixelShaderResource, tex.State())
	assert.Empty(t, gpu.ValidationErrors())
}

func TestRecordingOutsideRecordingState(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	buf, err := ctx.Device.CreateBuffer(BufferConfig{Name: "b", ElementSize: 4, ElementCount: 4}, BufferFlagNone)
	require.NoError(t, err)
	defer buf.Release()

	cl, err := ctx.NewCommandList(driver.QueueDirect, "closed")
	require.NoError(t, err)
	defer cl.Destroy()
	assert.Equal(t, CommandListClosed, cl.State())

	cl.Transition(buf, driver.StateCopyDest)
	assert.True(t, errors.Is(cl.Err(), core.ErrInvalidState))
	assert.Equal(t, driver.StateCommon, buf.State())
	assert.True(t, errors.Is(cl.Close(), core.ErrInvalidState))

	require.NoError(t, cl.Reset(nil))
	assert.NoError(t, cl.Err())
	assert.True(t, errors.Is(cl.Reset(nil), core.ErrInvalidState), "reset while recording")
	assert.NoError(t, cl.Close())
}

func TestResetWhileInFlight(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 200 * time.Millisecond
	ctx, _ := newTestContext(t, opts, testConfig())

	cl, err := ctx.NewCommandList(driver.QueueDirect, "slow")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))
	v, err := cl.ExecuteCommandList(false)
	require.NoError(t, err)
	assert.Equal(t, CommandListSubmitted, cl.State())
	assert.Equal(t, v, cl.FenceValue())

	assert.True(t, errors.Is(cl.Reset(nil), core.ErrCommandListInFlight))
	assert.Equal(t, WaitCompleted, ctx.Direct.WaitForValue(v, Infinite))
	assert.NoError(t, cl.Reset(nil))
	assert.NoError(t, cl.Close())
}

func TestUploadToBufferRoundTrip(t *testing.T) {
	ctx, gpu := newTestContext(t, software.DefaultOptions(), testConfig())
	dev := ctx.Device

	dst, err := dev.CreateBuffer(BufferConfig{Name: "dst", ElementSize: 4, ElementCount: 16}, BufferFlagNone)
	require.NoError(t, err)
	defer dst.Release()
	rb, err := dev.CreateBuffer(BufferConfig{Name: "rb", ElementSize: 4, ElementCount: 16}, BufferFlagReadback)
	require.NoError(t, err)
	defer rb.Release()

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(255 - i)
	}
	err = ctx.Immediate("upload", func(cl *CommandList) error {
		if err := cl.UploadToBuffer(dst, 0, data[:32]); err != nil {
			return err
		}
		if err := cl.UploadToBuffer(dst, 32, data[32:]); err != nil {
			return err
		}
		assert.Equal(t, uint64(64), cl.UploadBuffer().Used())
		cl.CopyBuffer(rb, dst)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, data, rb.Mapped())
	assert.Equal(t, driver.StateCopySource, dst.State())
	assert.Empty(t, gpu.ValidationErrors())

	err = ctx.Immediate("oob", func(cl *CommandList) error {
		return cl.UploadToBuffer(dst, 60, data[:8])
	})
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestUploadBufferFullOnList(t *testing.T) {
	config := testConfig()
	config.UploadBufferSize = 1024
	ctx, _ := newTestContext(t, software.DefaultOptions(), config)

	dst, err := ctx.Device.CreateBuffer(BufferConfig{Name: "big", ElementSize: 1, ElementCount: 4096}, BufferFlagNone)
	require.NoError(t, err)
	defer dst.Release()

	err = ctx.Immediate("too-big", func(cl *CommandList) error {
		return cl.UploadToBuffer(dst, 0, make([]byte, 2048))
	})
	assert.True(t, errors.Is(err, core.ErrUploadBufferFull))
}

func TestUploadToTextureRoundTrip(t *testing.T) {
	ctx, gpu := newTestContext(t, software.DefaultOptions(), testConfig())
	dev := ctx.Device

	// 5 pixels of 4 bytes give 20 byte rows, padded to 256 on the device
	tex, err := dev.CreateTexture(TextureConfig{Name: "mips", Width: 5, Height: 3, MipLevels: 2, Format: driver.FormatRGBA8Unorm}, nil)
	require.NoError(t, err)
	defer tex.Release()

	const srcPitch = 24
	mip0 := make([]byte, srcPitch*3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 20; x++ {
			mip0[y*srcPitch+x] = byte(y*20 + x + 1)
		}
	}
	mip1 := []byte{1, 2, 3, 4, 5, 6, 7, 8} // 2x1

	err = ctx.Immediate("upload", func(cl *CommandList) error {
		return cl.UploadToTexture(tex, 0, []SubresourceData{
			{Data: mip0, RowPitch: srcPitch},
			{Data: mip1},
		})
	})
	require.NoError(t, err)

	img, err := ctx.ReadTexture(tex)
	require.NoError(t, err)
	for y := 0; y < 3; y++ {
		assert.Equal(t, mip0[y*srcPitch:y*srcPitch+20], img.Pix[y*img.Stride:y*img.Stride+20], "row %d", y)
	}

	rb, err := dev.CreateBuffer(BufferConfig{Name: "rb", ElementSize: 1, ElementCount: 1024}, BufferFlagReadback)
	require.NoError(t, err)
	defer rb.Release()
	var fp driver.Footprints
	err = ctx.Immediate("readback-mip1", func(cl *CommandList) error {
		fp, err = cl.CopyTextureToBuffer(rb, 0, tex, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), fp.NumRows[0])
	assert.Equal(t, uint64(8), fp.RowSizeInBytes[0])
	assert.Equal(t, mip1, rb.Mapped()[:8])
	assert.Empty(t, gpu.ValidationErrors())

	err = ctx.Immediate("short", func(cl *CommandList) error {
		return cl.UploadToTexture(tex, 0, []SubresourceData{{Data: mip0[:40], RowPitch: srcPitch}})
	})
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestRetainedResourcesOutliveRelease(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 100 * time.Millisecond
	ctx, _ := newTestContext(t, opts, testConfig())

	buf, err := ctx.Device.CreateBuffer(BufferConfig{Name: "transient", ElementSize: 4, ElementCount: 4}, BufferFlagNone)
	require.NoError(t, err)

	cl, err := ctx.NewCommandList(driver.QueueDirect, "retain")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))
	require.NoError(t, cl.UploadToBuffer(buf, 0, []byte{1, 2, 3, 4}))
	_, err = cl.ExecuteCommandList(false)
	require.NoError(t, err)

	buf.Release()
	assert.False(t, buf.IsReleased(), "the submission still holds a reference")
	assert.Equal(t, 1, ctx.Direct.InFlight())

	require.NoError(t, ctx.Direct.Flush())
	assert.True(t, buf.IsReleased())
	assert.Zero(t, ctx.Direct.InFlight())
}

func TestTimedOutUploadOutlivesImmediate(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 200 * time.Millisecond
	config := testConfig()
	config.WaitTimeout = 20 * time.Millisecond
	ctx, gpu := newTestContext(t, opts, config)

	buf, err := ctx.Device.CreateBuffer(BufferConfig{Name: "dst", ElementSize: 4, ElementCount: 1}, BufferFlagNone)
	require.NoError(t, err)
	defer buf.Release()

	err = ctx.Immediate("upload", func(cl *CommandList) error {
		return cl.UploadToBuffer(buf, 0, []byte{1, 2, 3, 4})
	})
	assert.True(t, errors.Is(err, core.ErrWaitTimeout))
	assert.Equal(t, 1, ctx.Direct.InFlight())

	gpu.Idle()
	assert.Empty(t, gpu.ValidationErrors(), "the upload buffer and list stay alive until the copy ran")
	ctx.Direct.RetireCompleted()
	assert.Zero(t, ctx.Direct.InFlight())
}

func TestDestroyInFlightList(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 100 * time.Millisecond
	ctx, gpu := newTestContext(t, opts, testConfig())

	buf, err := ctx.Device.CreateBuffer(BufferConfig{Name: "dst", ElementSize: 4, ElementCount: 1}, BufferFlagNone)
	require.NoError(t, err)
	defer buf.Release()

	cl, err := ctx.NewCommandList(driver.QueueDirect, "orphan")
	require.NoError(t, err)
	require.NoError(t, cl.Reset(nil))
	require.NoError(t, cl.UploadToBuffer(buf, 0, []byte{9, 9, 9, 9}))
	_, err = cl.ExecuteCommandList(false)
	require.NoError(t, err)

	cl.Destroy()
	assert.NotNil(t, cl.Native(), "destruction waits for the fence")

	require.NoError(t, ctx.Direct.Flush())
	assert.Nil(t, cl.Native())
	assert.Empty(t, gpu.ValidationErrors())
}

func TestSubmitToWrongQueue(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	cl, err := ctx.NewCommandList(driver.QueueCopy, "copy")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))
	require.NoError(t, cl.Close())

	_, err = ctx.Direct.Submit(cl)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
	v, err := ctx.Copy.Submit(cl)
	require.NoError(t, err)
	assert.Equal(t, WaitCompleted, ctx.Copy.WaitForValue(v, time.Second))
}
