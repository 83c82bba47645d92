// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// WritePcap writes packets as a PCAP file to w, using datalink as the
// file's link-layer type. Byte-identical to what tcpdump/Wireshark
// produce for the same packets, since pcapgo.Writer owns the on-disk
// format.
func WritePcap(w io.Writer, datalink int, snaplen uint32, packets []Packet) error {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snaplen, layers.LinkType(datalink)); err != nil {
		return err
	}
	for _, p := range packets {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(p.TsSec, p.TsUsec*int64(time.Microsecond)),
			CaptureLength: len(p.Data),
			Length:        int(p.OrigLen),
		}
		if err := writer.WritePacket(ci, p.Data); err != nil {
			return err
		}
	}
	return nil
}
