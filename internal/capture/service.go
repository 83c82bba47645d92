// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/netpoke/netpoke/internal/logger"
)

// Service owns a live libpcap capture and feeds every frame it reads
// into a RingBuffer, tagging each packet with the survey session it
// belongs to via the SessionRegistry.
type Service struct {
	buffer   *RingBuffer
	registry *SessionRegistry
	handle   *pcap.Handle
	snaplen  int32
}

// NewService opens a live capture on iface; an empty iface selects the
// first device libpcap enumerates. timeout bounds how long a single
// pcap read blocks before checking for cancellation; callers typically
// pass 1 second.
func NewService(iface string, snaplen int32, promiscuous bool, timeout time.Duration, bpfFilter string, buffer *RingBuffer, registry *SessionRegistry) (*Service, error) {
	if iface == "" {
		devs, err := pcap.FindAllDevs()
		if err != nil {
			return nil, fmt.Errorf("enumerate capture devices: %w", err)
		}
		if len(devs) == 0 {
			return nil, fmt.Errorf("no capture devices available")
		}
		iface = devs[0].Name
	}

	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("create inactive pcap handle: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(snaplen)); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(promiscuous); err != nil {
		return nil, fmt.Errorf("set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate pcap handle: %w", err)
	}

	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set bpf filter %q: %w", bpfFilter, err)
		}
	}

	buffer.SetDatalink(int(handle.LinkType()))

	return &Service{buffer: buffer, registry: registry, handle: handle, snaplen: snaplen}, nil
}

// Run reads packets until ctx is canceled, storing each one in the
// ring buffer tagged with its survey session ID when one can be
// resolved from the registry.
func (s *Service) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	source := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	packets := source.Packets()

	log.Info("capture service started", "datalink", s.handle.LinkType())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			if packet == nil {
				continue
			}
			s.handlePacket(packet)
		}
	}
}

func (s *Service) handlePacket(packet gopacket.Packet) {
	data := packet.Data()
	sessionID, _ := sessionIDFor(data, s.registry)

	md := packet.Metadata()
	p := Packet{
		TsSec:           md.Timestamp.Unix(),
		TsUsec:          int64(md.Timestamp.Nanosecond() / int(time.Microsecond)),
		OrigLen:         uint32(md.Length),
		Data:            append([]byte(nil), data...),
		SurveySessionID: sessionID,
	}
	s.buffer.Add(p)
}

// Close releases the underlying pcap handle.
func (s *Service) Close() {
	s.handle.Close()
}
