package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrSwapchainBooting    = errors.New("swapchain resized or recreated, booting")
	ErrDescriptorHeapFull  = errors.New("descriptor heap exhausted")
	ErrUploadBufferFull    = errors.New("upload buffer capacity exceeded")
	ErrInvalidState        = errors.New("command list is not in the recording state")
	ErrCommandListInFlight = errors.New("command list is still executing on the GPU")
	ErrDeviceLost          = errors.New("graphics device lost")
	ErrWaitTimeout         = errors.New("timed out waiting for the GPU")
	ErrClearValueMismatch  = errors.New("clear value does not match the resource format")
	ErrResourceReleased    = errors.New("resource has been released")
	ErrUnsupported         = errors.New("operation not supported by the backend")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnknown             = errors.New("unknown")
)
