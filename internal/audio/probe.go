package audio

import (
	"context"
	"strings"
	"sync"

	"mictap/internal/domain"
	"mictap/internal/ports"
)

// Probe confirms microphone access by actually opening the device. It does
// not consult any cached device or permission state: a capture is started,
// and whatever the recorder reports is the answer. The granted handle is
// expected to be released immediately by the caller.
type Probe struct {
	capture ports.AudioCapture
	cfg     ports.AudioConfig
}

func NewProbe(capture ports.AudioCapture, cfg ports.AudioConfig) *Probe {
	return &Probe{capture: capture, cfg: cfg}
}

func (p *Probe) RequestAccess(ctx context.Context) (ports.MicrophoneHandle, error) {
	session, err := p.capture.Start(ctx, p.cfg)
	if err != nil {
		return nil, classifyCaptureErr(err)
	}
	return &grantedHandle{session: session}, nil
}

type grantedHandle struct {
	session     ports.AudioSession
	releaseOnce sync.Once
	releaseErr  error
}

func (h *grantedHandle) Release() error {
	h.releaseOnce.Do(func() {
		h.releaseErr = h.session.Stop()
	})
	return h.releaseErr
}

// classifyCaptureErr maps recorder failures onto the session error taxonomy
// from the recorder's stderr, which is folded into the error text.
func classifyCaptureErr(err error) *domain.VoiceError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such device"),
		strings.Contains(msg, "device not found"),
		strings.Contains(msg, "no such file or directory"),
		strings.Contains(msg, "no such process"):
		return domain.NewVoiceError(domain.ErrorCodeDeviceNotFound, err.Error())
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "not allowed"),
		strings.Contains(msg, "operation not permitted"):
		return domain.NewVoiceError(domain.ErrorCodePermissionDenied, err.Error())
	default:
		return domain.NewVoiceError(domain.ErrorCodePermissionDenied, err.Error())
	}
}
