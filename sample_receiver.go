package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/cwsl/sensorfront/fftengine"
)

// SampleBatch is one transform-sized block of samples handed to the
// processing pipeline. Mono PCM streams carry real samples only; Im is
// zero throughout.
type SampleBatch struct {
	Samples  [fftengine.FFTSize]fftengine.Sample
	Received time.Time
}

// batchQueueSize bounds how far the receiver can run ahead of the
// processing pipeline before old batches are dropped
const batchQueueSize = 16

// SampleReceiver listens for RTP/UDP PCM streams and accumulates
// fixed-size sample batches. Both unicast and multicast groups are
// supported; multicast sockets are opened with SO_REUSEADDR and
// SO_REUSEPORT so multiple instances can share a group.
type SampleReceiver struct {
	cfg     InputConfig
	metrics *PrometheusMetrics

	conn    *net.UDPConn
	batches chan *SampleBatch

	// Partial batch being filled between packets
	pending      [fftengine.FFTSize]fftengine.Sample
	pendingCount int

	lastSeq  uint16
	haveSeq  bool
	lastSSRC uint32
	haveSSRC bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSampleReceiver creates a receiver for the configured input stream
func NewSampleReceiver(cfg InputConfig, metrics *PrometheusMetrics) *SampleReceiver {
	return &SampleReceiver{
		cfg:      cfg,
		metrics:  metrics,
		batches:  make(chan *SampleBatch, batchQueueSize),
		stopChan: make(chan struct{}),
	}
}

// Batches returns the channel of completed sample batches
func (r *SampleReceiver) Batches() <-chan *SampleBatch {
	return r.batches
}

// Start opens the UDP socket and begins receiving
func (r *SampleReceiver) Start() error {
	addr, err := net.ResolveUDPAddr("udp4", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %s: %w", r.cfg.Listen, err)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
					return
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.cfg.Listen, err)
	}
	r.conn = pc.(*net.UDPConn)

	if addr.IP != nil && addr.IP.IsMulticast() {
		p := ipv4.NewPacketConn(r.conn)
		group := &net.UDPAddr{IP: addr.IP}
		var ifi *net.Interface
		if r.cfg.Interface != "" {
			ifi, err = net.InterfaceByName(r.cfg.Interface)
			if err != nil {
				r.conn.Close()
				return fmt.Errorf("failed to find interface %s: %w", r.cfg.Interface, err)
			}
		}
		if err := p.JoinGroup(ifi, group); err != nil {
			r.conn.Close()
			return fmt.Errorf("failed to join multicast group %s: %w", addr.IP, err)
		}
		log.Printf("Joined multicast group %s on port %d", addr.IP, addr.Port)
	} else {
		log.Printf("Listening for unicast RTP on %s", r.cfg.Listen)
	}

	r.wg.Add(1)
	go r.receiveLoop()

	return nil
}

// Stop shuts down the receiver and closes the batch channel
func (r *SampleReceiver) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		if r.conn != nil {
			r.conn.Close()
		}
		r.wg.Wait()
		close(r.batches)
	})
}

func (r *SampleReceiver) receiveLoop() {
	defer r.wg.Done()

	buf := make([]byte, 65536)

	for {
		select {
		case <-r.stopChan:
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-r.stopChan:
				return
			default:
			}
			log.Printf("Sample receiver read error: %v", err)
			if r.metrics != nil {
				r.metrics.rtpErrorsTotal.Inc()
			}
			continue
		}

		r.handlePacket(buf[:n])
	}
}

func (r *SampleReceiver) handlePacket(data []byte) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		if r.metrics != nil {
			r.metrics.rtpErrorsTotal.Inc()
		}
		return
	}

	if r.cfg.PayloadType != 0 && pkt.PayloadType != r.cfg.PayloadType {
		if r.metrics != nil {
			r.metrics.rtpIgnoredTotal.Inc()
		}
		return
	}

	// Lock onto the first SSRC seen; ignore interlopers
	if !r.haveSSRC {
		r.lastSSRC = pkt.SSRC
		r.haveSSRC = true
		log.Printf("Locked to RTP stream SSRC 0x%08x (payload type %d)", pkt.SSRC, pkt.PayloadType)
	} else if pkt.SSRC != r.lastSSRC {
		if r.metrics != nil {
			r.metrics.rtpIgnoredTotal.Inc()
		}
		return
	}

	if r.haveSeq {
		expected := r.lastSeq + 1
		if pkt.SequenceNumber != expected {
			gap := int(pkt.SequenceNumber - expected)
			if gap > 0 && gap < 1000 {
				log.Printf("RTP sequence gap: expected %d, got %d (%d packets lost)",
					expected, pkt.SequenceNumber, gap)
				if r.metrics != nil {
					r.metrics.inputGapsTotal.Add(float64(gap))
				}
				// Drop the partial batch rather than stitch across a gap
				r.pendingCount = 0
			}
		}
	}
	r.lastSeq = pkt.SequenceNumber
	r.haveSeq = true

	if r.metrics != nil {
		r.metrics.rtpPacketsTotal.Inc()
		r.metrics.inputBytesTotal.Add(float64(len(data)))
	}

	r.appendPCM(pkt.Payload)
}

// appendPCM decodes big-endian signed 16-bit mono PCM into the pending
// batch, emitting a completed batch each time it fills
func (r *SampleReceiver) appendPCM(payload []byte) {
	sampleCount := len(payload) / 2
	if r.metrics != nil {
		r.metrics.samplesTotal.Add(float64(sampleCount))
	}

	for i := 0; i < sampleCount; i++ {
		v := int16(binary.BigEndian.Uint16(payload[2*i:]))
		r.pending[r.pendingCount] = fftengine.Sample{Re: v}
		r.pendingCount++

		if r.pendingCount == fftengine.FFTSize {
			r.emitBatch()
		}
	}
}

func (r *SampleReceiver) emitBatch() {
	batch := &SampleBatch{
		Samples:  r.pending,
		Received: time.Now(),
	}
	r.pendingCount = 0

	select {
	case r.batches <- batch:
	default:
		// Pipeline is behind; drop the oldest queued batch
		select {
		case <-r.batches:
			if r.metrics != nil {
				r.metrics.batchesDiscard.Inc()
			}
		default:
		}
		select {
		case r.batches <- batch:
		default:
		}
	}
}
