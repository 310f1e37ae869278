package worldsync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	. "github.com/anacrolix/generics"
	"github.com/dannyzb/worldsync/chunkmodel"
)

// Wire layout is a fixed kind byte followed by a kind-specific body,
// length-prefixed as a uint32 frame the way the BitTorrent wire keeps
// messages self-delimiting over a stream socket. There's no varint
// cleverness here: chunk payloads dominate the byte budget and a fixed
// header costs nothing next to them.

// MarshalBinary encodes m into its wire form. It never fails: every
// field of WorldNetMessage is already wire-shaped, so like
// pp.Message.MustMarshalBinary this has no error return and panics
// only on a coding bug.
func (m WorldNetMessage) MarshalBinary() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))
	switch m.Kind {
	case MsgRequestAuthority:
		writeChunkCoord(&buf, m.Chunk)
		buf.WriteByte(m.Priority)
		writeBool(&buf, m.CanWait)
	case MsgAskForAuthority:
		writeChunkCoord(&buf, m.Chunk)
		buf.WriteByte(m.Priority)
	case MsgGotAuthority, MsgListenInitialResponse:
		writeChunkCoord(&buf, m.Chunk)
		writeOptionalChunkData(&buf, m.Data)
		buf.WriteByte(m.Priority)
	case MsgAuthorityAlreadyTaken:
		writeChunkCoord(&buf, m.Chunk)
		writePeerId(&buf, m.Authority)
	case MsgListenRequest, MsgListenStopRequest, MsgListenAuthorityRelinquished, MsgUnloadChunk,
		MsgRequestAuthorityTransfer, MsgTransferFailed, MsgNotifyNewAuthority:
		writeChunkCoord(&buf, m.Chunk)
	case MsgListenUpdate:
		writeChunkDelta(&buf, m.Delta)
		buf.WriteByte(m.Priority)
		writeBool(&buf, m.TakeAuth)
	case MsgChunkPacket:
		writeChunkCoord(&buf, m.Chunk)
		writeChunkPacketEntries(&buf, m.Packets)
	case MsgLoseAuthority:
		writeChunkCoord(&buf, m.Chunk)
		buf.WriteByte(m.NewPrio)
		writePeerId(&buf, m.NewAuth)
	case MsgChangePriority:
		writeChunkCoord(&buf, m.Chunk)
		buf.WriteByte(m.Priority)
	case MsgRelinquishAuthority, MsgUpdateStorage:
		writeChunkCoord(&buf, m.Chunk)
		writeOptionalChunkData(&buf, m.Data)
		writeUint32(&buf, m.WorldNum)
	case MsgGetAuthorityFrom:
		writeChunkCoord(&buf, m.Chunk)
		writePeerId(&buf, m.Authority)
	case MsgTransferOk:
		writeChunkCoord(&buf, m.Chunk)
		writeOptionalChunkData(&buf, m.Data)
		writePeerList(&buf, m.Listeners)
	default:
		panic(fmt.Sprintf("worldsync: unhandled message kind %v in MarshalBinary", m.Kind))
	}
	return buf.Bytes()
}

// UnmarshalMessage decodes a single message body (without the frame
// length prefix) produced by MarshalBinary.
func UnmarshalMessage(b []byte) (WorldNetMessage, error) {
	r := bytes.NewReader(b)
	kindByte, err := r.ReadByte()
	if err != nil {
		return WorldNetMessage{}, fmt.Errorf("worldsync: reading message kind: %w", err)
	}
	kind := MessageKind(kindByte)
	m := WorldNetMessage{Kind: kind}
	switch kind {
	case MsgRequestAuthority:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Priority, err = r.ReadByte(); err != nil {
			return m, fmt.Errorf("worldsync: reading priority: %w", err)
		}
		if m.CanWait, err = readBool(r); err != nil {
			return m, err
		}
	case MsgAskForAuthority:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Priority, err = r.ReadByte(); err != nil {
			return m, fmt.Errorf("worldsync: reading priority: %w", err)
		}
	case MsgGotAuthority, MsgListenInitialResponse:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Data, err = readOptionalChunkData(r); err != nil {
			return m, err
		}
		if m.Priority, err = r.ReadByte(); err != nil {
			return m, fmt.Errorf("worldsync: reading priority: %w", err)
		}
	case MsgAuthorityAlreadyTaken:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Authority, err = readPeerId(r); err != nil {
			return m, err
		}
	case MsgListenRequest, MsgListenStopRequest, MsgListenAuthorityRelinquished, MsgUnloadChunk,
		MsgRequestAuthorityTransfer, MsgTransferFailed, MsgNotifyNewAuthority:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
	case MsgListenUpdate:
		if m.Delta, err = readChunkDelta(r); err != nil {
			return m, err
		}
		if m.Priority, err = r.ReadByte(); err != nil {
			return m, fmt.Errorf("worldsync: reading priority: %w", err)
		}
		if m.TakeAuth, err = readBool(r); err != nil {
			return m, err
		}
	case MsgChunkPacket:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Packets, err = readChunkPacketEntries(r); err != nil {
			return m, err
		}
	case MsgLoseAuthority:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.NewPrio, err = r.ReadByte(); err != nil {
			return m, fmt.Errorf("worldsync: reading new priority: %w", err)
		}
		if m.NewAuth, err = readPeerId(r); err != nil {
			return m, err
		}
	case MsgChangePriority:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Priority, err = r.ReadByte(); err != nil {
			return m, fmt.Errorf("worldsync: reading priority: %w", err)
		}
	case MsgRelinquishAuthority, MsgUpdateStorage:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Data, err = readOptionalChunkData(r); err != nil {
			return m, err
		}
		if m.WorldNum, err = readUint32(r); err != nil {
			return m, err
		}
	case MsgGetAuthorityFrom:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Authority, err = readPeerId(r); err != nil {
			return m, err
		}
	case MsgTransferOk:
		if m.Chunk, err = readChunkCoord(r); err != nil {
			return m, err
		}
		if m.Data, err = readOptionalChunkData(r); err != nil {
			return m, err
		}
		if m.Listeners, err = readPeerList(r); err != nil {
			return m, err
		}
	default:
		return m, fmt.Errorf("worldsync: unknown message kind %d", kindByte)
	}
	return m, nil
}

// FrameWriter writes length-prefixed message frames to an underlying
// stream. Each frame's length prefix and body are assembled in one
// buffer and sent with a single Write call per message.
type FrameWriter struct {
	w   io.Writer
	buf bytes.Buffer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) Write(m WorldNetMessage) error {
	body := m.MarshalBinary()
	fw.buf.Reset()
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(body)))
	fw.buf.Write(lenBytes[:])
	fw.buf.Write(body)
	_, err := fw.w.Write(fw.buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed message frame from r.
func ReadFrame(r io.Reader) (WorldNetMessage, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return WorldNetMessage{}, err
	}
	n := binary.BigEndian.Uint32(lenBytes[:])
	const maxFrame = 16 << 20
	if n > maxFrame {
		return WorldNetMessage{}, fmt.Errorf("worldsync: frame of %d bytes exceeds %d byte limit", n, maxFrame)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return WorldNetMessage{}, err
	}
	return UnmarshalMessage(body)
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("worldsync: reading bool: %w", err)
	}
	return b != 0, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, fmt.Errorf("worldsync: reading uint32: %w", err)
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writePeerId(buf *bytes.Buffer, p PeerId) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(p))
	buf.Write(tmp[:])
}

func readPeerId(r *bytes.Reader) (PeerId, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, fmt.Errorf("worldsync: reading peer id: %w", err)
	}
	return PeerId(binary.BigEndian.Uint64(tmp[:])), nil
}

func writePeerList(buf *bytes.Buffer, peers []PeerId) {
	writeUint32(buf, uint32(len(peers)))
	for _, p := range peers {
		writePeerId(buf, p)
	}
}

func readPeerList(r *bytes.Reader) ([]PeerId, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]PeerId, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := readPeerId(r)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func writeChunkCoord(buf *bytes.Buffer, c chunkmodel.ChunkCoord) {
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[0:4], uint32(c.X))
	binary.BigEndian.PutUint32(tmp[4:8], uint32(c.Y))
	buf.Write(tmp[:])
}

func readChunkCoord(r *bytes.Reader) (chunkmodel.ChunkCoord, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return chunkmodel.ChunkCoord{}, fmt.Errorf("worldsync: reading chunk coord: %w", err)
	}
	return chunkmodel.ChunkCoord{
		X: int32(binary.BigEndian.Uint32(tmp[0:4])),
		Y: int32(binary.BigEndian.Uint32(tmp[4:8])),
	}, nil
}

func writeIndexedPixel(buf *bytes.Buffer, ip chunkmodel.IndexedPixel) {
	var tmp [5]byte
	binary.BigEndian.PutUint16(tmp[0:2], ip.Index)
	binary.BigEndian.PutUint16(tmp[2:4], ip.Pixel.Material)
	tmp[4] = byte(ip.Pixel.Flags)
	buf.Write(tmp[:])
}

func readIndexedPixel(r *bytes.Reader) (chunkmodel.IndexedPixel, error) {
	var tmp [5]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return chunkmodel.IndexedPixel{}, fmt.Errorf("worldsync: reading indexed pixel: %w", err)
	}
	return chunkmodel.IndexedPixel{
		Index: binary.BigEndian.Uint16(tmp[0:2]),
		Pixel: chunkmodel.Pixel{
			Material: binary.BigEndian.Uint16(tmp[2:4]),
			Flags:    chunkmodel.PixelFlags(tmp[4]),
		},
	}, nil
}

func writeChunkData(buf *bytes.Buffer, cd chunkmodel.ChunkData) {
	writeUint32(buf, uint32(len(cd.Set)))
	for _, ip := range cd.Set {
		writeIndexedPixel(buf, ip)
	}
}

func readChunkData(r *bytes.Reader) (chunkmodel.ChunkData, error) {
	n, err := readUint32(r)
	if err != nil {
		return chunkmodel.ChunkData{}, fmt.Errorf("worldsync: reading chunk data length: %w", err)
	}
	cd := chunkmodel.ChunkData{Set: make([]chunkmodel.IndexedPixel, 0, n)}
	for i := uint32(0); i < n; i++ {
		ip, err := readIndexedPixel(r)
		if err != nil {
			return cd, err
		}
		cd.Set = append(cd.Set, ip)
	}
	return cd, nil
}

func writeOptionalChunkData(buf *bytes.Buffer, d Option[chunkmodel.ChunkData]) {
	writeBool(buf, d.Ok)
	if d.Ok {
		writeChunkData(buf, d.Value)
	}
}

func readOptionalChunkData(r *bytes.Reader) (Option[chunkmodel.ChunkData], error) {
	present, err := readBool(r)
	if err != nil {
		return Option[chunkmodel.ChunkData]{}, err
	}
	if !present {
		return Option[chunkmodel.ChunkData]{}, nil
	}
	cd, err := readChunkData(r)
	if err != nil {
		return Option[chunkmodel.ChunkData]{}, err
	}
	return Some(cd), nil
}

func writeChunkDelta(buf *bytes.Buffer, d chunkmodel.ChunkDelta) {
	writeChunkCoord(buf, d.ChunkCoord)
	writeChunkData(buf, chunkmodel.ChunkData{Set: d.Changed})
}

func readChunkDelta(r *bytes.Reader) (chunkmodel.ChunkDelta, error) {
	coord, err := readChunkCoord(r)
	if err != nil {
		return chunkmodel.ChunkDelta{}, err
	}
	data, err := readChunkData(r)
	if err != nil {
		return chunkmodel.ChunkDelta{}, err
	}
	return chunkmodel.ChunkDelta{ChunkCoord: coord, Changed: data.Set}, nil
}

func writeChunkPacketEntries(buf *bytes.Buffer, entries []ChunkPacketEntry) {
	writeUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		writeChunkDelta(buf, e.Delta)
		buf.WriteByte(e.Priority)
	}
}

func readChunkPacketEntries(r *bytes.Reader) ([]ChunkPacketEntry, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]ChunkPacketEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		delta, err := readChunkDelta(r)
		if err != nil {
			return out, err
		}
		prio, err := r.ReadByte()
		if err != nil {
			return out, fmt.Errorf("worldsync: reading chunk packet entry priority: %w", err)
		}
		out = append(out, ChunkPacketEntry{Delta: delta, Priority: prio})
	}
	return out, nil
}
