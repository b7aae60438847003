// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package wire implements the protocol spoken between dispatchers and
// remote endpoints. Each connection carries exactly one request frame,
// holding a work descriptor, followed by one response frame, holding
// the partition's results.
//
// A frame is laid out as follows:
//
//	magic   4 bytes  "BDSP"
//	version 1 byte
//	flags   1 byte   (bit 0: payload is zstd-compressed)
//	length  4 bytes  big-endian payload length
//	payload length bytes: a self-contained gob stream
//	crc32   4 bytes  big-endian IEEE checksum of the payload
//
// Values carried in descriptors and results are encoded with gob as
// interface values: types other than gob's predeclared types, []interface{}
// and map[string]interface{} must be registered with gob.Register by
// both peers.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"net"

	"github.com/grailbio/base/compress/zstd"
	"github.com/grailbio/base/errors"
)

const (
	// Version is the frame version written by this package. Frames
	// with any other version are rejected.
	Version = 1
	// MaxFrameSize is the largest payload accepted by ReadFrame.
	MaxFrameSize = 256 << 20

	flagZstd = 1 << 0

	headerSize  = 10
	trailerSize = 4
)

var magic = [4]byte{'B', 'D', 'S', 'P'}

// WriteFrame gob-encodes msg and writes it to w as a single frame,
// compressing the payload if compress is true. Encoding failures are
// reported as errors.Invalid; nothing is written in that case. Write
// failures are reported as errors.Net.
func WriteFrame(w io.Writer, msg interface{}, compress bool) error {
	var (
		payload bytes.Buffer
		flags   byte
	)
	if compress {
		flags |= flagZstd
		zw, err := zstd.NewWriter(&payload)
		if err != nil {
			return errors.E(errors.Invalid, "encode frame", err)
		}
		if err := gob.NewEncoder(zw).Encode(msg); err != nil {
			zw.Close()
			return errors.E(errors.Invalid, "encode frame", err)
		}
		if err := zw.Close(); err != nil {
			return errors.E(errors.Invalid, "encode frame", err)
		}
	} else if err := gob.NewEncoder(&payload).Encode(msg); err != nil {
		return errors.E(errors.Invalid, "encode frame", err)
	}
	if payload.Len() > MaxFrameSize {
		return errors.E(errors.Invalid, fmt.Sprintf("encode frame: payload of %d bytes exceeds maximum frame size", payload.Len()))
	}
	var (
		header  [headerSize]byte
		trailer [trailerSize]byte
	)
	copy(header[:4], magic[:])
	header[4] = Version
	header[5] = flags
	binary.BigEndian.PutUint32(header[6:], uint32(payload.Len()))
	binary.BigEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(payload.Bytes()))
	bufs := net.Buffers{header[:], payload.Bytes(), trailer[:]}
	if _, err := bufs.WriteTo(w); err != nil {
		return errors.E(errors.Net, "write frame", err)
	}
	return nil
}

// ReadFrame reads a single frame from r and gob-decodes its payload
// into msg. Malformed frames (bad magic, unknown version or flags,
// oversized payloads, checksum mismatches, undecodable payloads) are
// reported as errors.Integrity; read failures as errors.Net.
func ReadFrame(r io.Reader, msg interface{}) error {
	_, err := readFrame(r, msg)
	return err
}

func readFrame(r io.Reader, msg interface{}) (flags byte, err error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, errors.E(errors.Net, "read frame header", err)
	}
	if !bytes.Equal(header[:4], magic[:]) {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("read frame: bad magic %q", header[:4]))
	}
	if v := header[4]; v != Version {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("read frame: unsupported version %d", v))
	}
	flags = header[5]
	if flags&^flagZstd != 0 {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("read frame: unknown flags %#x", flags))
	}
	n := binary.BigEndian.Uint32(header[6:])
	if n > MaxFrameSize {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("read frame: payload of %d bytes exceeds maximum frame size", n))
	}
	// The buffer grows as data arrives; a header alone does not commit
	// the reader to allocating the advertised size.
	var b bytes.Buffer
	if _, err := io.CopyN(&b, r, int64(n)+trailerSize); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, errors.E(errors.Net, "read frame payload", err)
	}
	buf := b.Bytes()
	payload := buf[:n]
	if sum, decoded := crc32.ChecksumIEEE(payload), binary.BigEndian.Uint32(buf[n:]); sum != decoded {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("read frame: computed checksum %x but expected checksum %x", sum, decoded))
	}
	var pr io.Reader = bytes.NewReader(payload)
	if flags&flagZstd != 0 {
		zr, err := zstd.NewReader(pr)
		if err != nil {
			return 0, errors.E(errors.Integrity, "read frame: zstd", err)
		}
		defer zr.Close()
		pr = zr
	}
	if err := gob.NewDecoder(pr).Decode(msg); err != nil {
		return 0, errors.E(errors.Integrity, "decode frame", err)
	}
	return flags, nil
}
