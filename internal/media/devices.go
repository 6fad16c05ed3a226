package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/call"
)

// ErrNoPorts is returned when every port of the media range is taken.
var ErrNoPorts = errors.New("no free media port")

// Devices hands out RTP sessions on ports of a fixed range. It implements
// call.MediaDevices.
type Devices struct {
	bindAddr      string
	advertiseAddr string
	portMin       int
	portMax       int

	mu    sync.Mutex
	next  int
	inUse map[int]bool
}

func NewDevices(bindAddr, advertiseAddr string, portMin, portMax int) *Devices {
	return &Devices{
		bindAddr:      bindAddr,
		advertiseAddr: advertiseAddr,
		portMin:       portMin,
		portMax:       portMax,
		next:          portMin,
		inUse:         make(map[int]bool),
	}
}

// Acquire binds the next free port. Audio is required; a bind refused by the
// OS maps to call.ErrPermissionDenied.
func (d *Devices) Acquire(ctx context.Context, c call.Constraints) (call.LocalMedia, error) {
	if !c.Audio {
		return nil, fmt.Errorf("audio track is required")
	}

	size := d.portMax - d.portMin + 1
	for i := 0; i < size; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		port, ok := d.reserve()
		if !ok {
			break
		}

		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(d.bindAddr), Port: port})
		if err != nil {
			d.free(port)
			if isPermissionError(err) {
				return nil, fmt.Errorf("%w: bind rtp port %d: %v", call.ErrPermissionDenied, port, err)
			}
			log.Debug().Err(err).Int("port", port).Msg("media port unavailable, trying next")
			continue
		}

		log.Debug().Int("port", port).Bool("video", c.Video).Msg("media session acquired")
		return newSession(conn, d.advertiseAddr, c.Video, func() { d.free(port) }), nil
	}

	return nil, ErrNoPorts
}

// InUse reports how many ports are currently held.
func (d *Devices) InUse() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inUse)
}

func (d *Devices) reserve() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.portMax - d.portMin + 1
	for i := 0; i < size; i++ {
		port := d.next
		d.next++
		if d.next > d.portMax {
			d.next = d.portMin
		}
		if !d.inUse[port] {
			d.inUse[port] = true
			return port, true
		}
	}
	return 0, false
}

func (d *Devices) free(port int) {
	d.mu.Lock()
	delete(d.inUse, port)
	d.mu.Unlock()
}

func isPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM)
}
