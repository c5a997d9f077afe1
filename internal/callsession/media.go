package callsession

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/easyclase/liveclass/internal/application/constant"
)

// Devices provides local capture sources. The session owns every track it
// opens and is the only component that closes them.
type Devices interface {
	OpenMicrophone(ctx context.Context) (*Track, error)
	OpenCamera(ctx context.Context) (*Track, error)
	OpenScreen(ctx context.Context) (*Track, error)
}

// Track wraps a local RTP track with an enabled flag. Disabling does not
// signal the peer; the remote side observes the silence directly, so
// toggling stays a purely local operation.
type Track struct {
	local     *webrtc.TrackLocalStaticRTP
	enabled   atomic.Bool
	closeFn   func() error
	closeOnce sync.Once
}

func NewTrack(local *webrtc.TrackLocalStaticRTP, closeFn func() error) *Track {
	t := &Track{local: local, closeFn: closeFn}
	t.enabled.Store(true)
	return t
}

func (t *Track) Local() *webrtc.TrackLocalStaticRTP {
	return t.local
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// Toggle flips the enabled flag and returns the new value.
func (t *Track) Toggle() bool {
	for {
		old := t.enabled.Load()
		if t.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (t *Track) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.closeFn != nil {
			err = t.closeFn()
		}
	})
	return err
}

// UDPDevices reads RTP from local UDP sockets fed by an external capture
// process (ffmpeg pumping camera, microphone and screen). Each Open binds
// the socket and forwards packets into a pion local track until the track
// is closed.
type UDPDevices struct {
	MicAddr    string
	CameraAddr string
	ScreenAddr string
}

var _ Devices = (*UDPDevices)(nil)

func (d *UDPDevices) OpenMicrophone(ctx context.Context) (*Track, error) {
	return d.open(ctx, d.MicAddr, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio")
}

func (d *UDPDevices) OpenCamera(ctx context.Context) (*Track, error) {
	return d.open(ctx, d.CameraAddr, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video")
}

func (d *UDPDevices) OpenScreen(ctx context.Context) (*Track, error) {
	return d.open(ctx, d.ScreenAddr, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen")
}

func (d *UDPDevices) open(ctx context.Context, addr string, capability webrtc.RTPCodecCapability, id string) (*Track, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s rtp addr: %w", id, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s rtp: %w", id, err)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(capability, id, "liveclass")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create %s track: %w", id, err)
	}

	track := NewTrack(local, conn.Close)

	go pump(conn, track)

	go func() {
		<-ctx.Done()
		track.Close()
	}()

	return track, nil
}

func pump(conn *net.UDPConn, track *Track) {
	buf := make([]byte, 1500)

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		if !track.Enabled() {
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			slog.Warn("drop malformed rtp packet", slog.Any(constant.Error, err))
			continue
		}

		if err := track.Local().WriteRTP(&pkt); err != nil {
			slog.Warn("rtp write error", slog.Any(constant.Error, err))
		}
	}
}
