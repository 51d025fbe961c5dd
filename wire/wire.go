// Package wire frames paxos protocol messages onto a byte stream: a
// fixed {type uint32, data_size uint32} header (big-endian) followed
// by data_size bytes of body, exactly as spec.md §6 describes. This is
// the "wire/event shim" spec.md calls an external collaborator; it
// holds no protocol state of its own.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/MinbinGong/paxos/paxos"
)

// MsgType tags the body that follows the header.
type MsgType uint32

const (
	MsgPrepareReq MsgType = iota + 1
	MsgPrepareAck
	MsgAcceptReq
	MsgAcceptAck
	MsgRepeatReq
	MsgSubmit
)

const headerLen = 8

// MaxValueSize bounds the body of any single message. Bodies over
// this size are drained and discarded without being decoded, per
// spec.md §7.2.
const MaxValueSize = 64 * 1024

// Envelope is a decoded message paired with its type tag, ready for
// dispatch to the paxos/learner engines.
type Envelope struct {
	Type MsgType
	// Exactly one of the following is populated, matching Type.
	PrepareReq paxos.PrepareReq
	PrepareAck paxos.PrepareAck
	AcceptReq  paxos.AcceptReq
	AcceptAck  paxos.AcceptAck
	RepeatReq  paxos.RepeatReq
	Submit     paxos.Value
}

// ErrOversize is returned by Read when a message body exceeds
// MaxValueSize; the body has already been drained from r and no
// further action is required by the caller beyond logging.
var ErrOversize = fmt.Errorf("wire: message body exceeds %d bytes", MaxValueSize)

// Write encodes env and writes header+body to w.
func Write(w io.Writer, env Envelope) error {
	body, err := encodeBody(env)
	if err != nil {
		return err
	}
	header := make([]byte, headerLen)
	binary.BigEndian.PutUint32(header[0:4], uint32(env.Type))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Read decodes one framed message from r. If the body exceeds
// MaxValueSize, the body is drained and ErrOversize is returned
// instead of an Envelope, matching §7.2's "discard, no state mutation"
// rule.
func Read(r *bufio.Reader) (Envelope, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Envelope{}, err
	}
	msgType := MsgType(binary.BigEndian.Uint32(header[0:4]))
	size := binary.BigEndian.Uint32(header[4:8])

	if size > MaxValueSize {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return Envelope{}, err
		}
		return Envelope{}, ErrOversize
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	return decodeBody(msgType, body)
}

func encodeBody(env Envelope) ([]byte, error) {
	switch env.Type {
	case MsgPrepareReq:
		b := make([]byte, 8)
		binary.BigEndian.PutUint32(b[0:4], uint32(env.PrepareReq.Iid))
		binary.BigEndian.PutUint32(b[4:8], uint32(env.PrepareReq.Ballot))
		return b, nil
	case MsgPrepareAck:
		return encodeAckLike(int32(env.PrepareAck.AcceptorId), env.PrepareAck.Iid,
			env.PrepareAck.Ballot, env.PrepareAck.ValueBallot, env.PrepareAck.Value), nil
	case MsgAcceptReq:
		b := make([]byte, 12+len(env.AcceptReq.Value))
		binary.BigEndian.PutUint32(b[0:4], uint32(env.AcceptReq.Iid))
		binary.BigEndian.PutUint32(b[4:8], uint32(env.AcceptReq.Ballot))
		binary.BigEndian.PutUint32(b[8:12], uint32(len(env.AcceptReq.Value)))
		copy(b[12:], env.AcceptReq.Value)
		return b, nil
	case MsgAcceptAck:
		return encodeAckLike(int32(env.AcceptAck.AcceptorId), env.AcceptAck.Iid,
			env.AcceptAck.Ballot, env.AcceptAck.ValueBallot, env.AcceptAck.Value), nil
	case MsgRepeatReq:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b[0:4], uint32(env.RepeatReq.Iid))
		return b, nil
	case MsgSubmit:
		return []byte(env.Submit), nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", env.Type)
	}
}

func encodeAckLike(acceptorId int32, iid paxos.InstanceId, ballot, valueBallot paxos.Ballot, value paxos.Value) []byte {
	b := make([]byte, 20+len(value))
	binary.BigEndian.PutUint32(b[0:4], uint32(acceptorId))
	binary.BigEndian.PutUint32(b[4:8], uint32(iid))
	binary.BigEndian.PutUint32(b[8:12], uint32(ballot))
	binary.BigEndian.PutUint32(b[12:16], uint32(valueBallot))
	binary.BigEndian.PutUint32(b[16:20], uint32(len(value)))
	copy(b[20:], value)
	return b
}

func decodeBody(msgType MsgType, body []byte) (Envelope, error) {
	switch msgType {
	case MsgPrepareReq:
		if len(body) < 8 {
			return Envelope{}, fmt.Errorf("wire: short prepare_req body")
		}
		return Envelope{Type: msgType, PrepareReq: paxos.PrepareReq{
			Iid:    paxos.InstanceId(binary.BigEndian.Uint32(body[0:4])),
			Ballot: paxos.Ballot(binary.BigEndian.Uint32(body[4:8])),
		}}, nil
	case MsgPrepareAck:
		ack, err := decodeAckLike(body)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: msgType, PrepareAck: paxos.PrepareAck(ack)}, nil
	case MsgAcceptReq:
		if len(body) < 12 {
			return Envelope{}, fmt.Errorf("wire: short accept_req body")
		}
		size := binary.BigEndian.Uint32(body[8:12])
		if int(size) > len(body)-12 {
			return Envelope{}, fmt.Errorf("wire: accept_req value_size exceeds body")
		}
		value := make(paxos.Value, size)
		copy(value, body[12:12+size])
		return Envelope{Type: msgType, AcceptReq: paxos.AcceptReq{
			Iid:    paxos.InstanceId(binary.BigEndian.Uint32(body[0:4])),
			Ballot: paxos.Ballot(binary.BigEndian.Uint32(body[4:8])),
			Value:  value,
		}}, nil
	case MsgAcceptAck:
		ack, err := decodeAckLike(body)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: msgType, AcceptAck: paxos.AcceptAck(ack)}, nil
	case MsgRepeatReq:
		if len(body) < 4 {
			return Envelope{}, fmt.Errorf("wire: short repeat_req body")
		}
		return Envelope{Type: msgType, RepeatReq: paxos.RepeatReq{
			Iid: paxos.InstanceId(binary.BigEndian.Uint32(body[0:4])),
		}}, nil
	case MsgSubmit:
		value := make(paxos.Value, len(body))
		copy(value, body)
		return Envelope{Type: msgType, Submit: value}, nil
	default:
		// The body has already been consumed, so the stream is still
		// positioned at the next frame. transport.Manager's readLoop
		// treats this error like any other read error: it logs it and
		// closes the connection rather than skipping the message.
		return Envelope{}, fmt.Errorf("wire: unknown message type %d", msgType)
	}
}

func decodeAckLike(body []byte) (paxos.AcceptAck, error) {
	if len(body) < 20 {
		return paxos.AcceptAck{}, fmt.Errorf("wire: short ack body")
	}
	size := binary.BigEndian.Uint32(body[16:20])
	if int(size) > len(body)-20 {
		return paxos.AcceptAck{}, fmt.Errorf("wire: ack value_size exceeds body")
	}
	value := make(paxos.Value, size)
	copy(value, body[20:20+size])
	return paxos.AcceptAck{
		AcceptorId:  paxos.AcceptorId(int32(binary.BigEndian.Uint32(body[0:4]))),
		Iid:         paxos.InstanceId(binary.BigEndian.Uint32(body[4:8])),
		Ballot:      paxos.Ballot(binary.BigEndian.Uint32(body[8:12])),
		ValueBallot: paxos.Ballot(binary.BigEndian.Uint32(body[12:16])),
		Value:       value,
	}, nil
}
